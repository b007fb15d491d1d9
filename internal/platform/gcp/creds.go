package gcp

import (
	"os"
	"strings"

	"google.golang.org/api/option"
)

// ClientOptions turns a credentials reference into client options. A value
// starting with "{" is inline service-account JSON; anything else is a path.
// An empty reference falls back to Application Default Credentials.
func ClientOptions(credentials string) []option.ClientOption {
	creds := strings.TrimSpace(credentials)
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

func ClientOptionsFromEnv() []option.ClientOption {
	for _, key := range []string{"SERVICE_ACCOUNT_FILE", "GOOGLE_APPLICATION_CREDENTIALS_JSON", "GOOGLE_APPLICATION_CREDENTIALS"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return ClientOptions(v)
		}
	}
	return nil
}
