package credentials

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// EnvProvider reads credentials from environment variables, optionally
// layered under the values of a dotenv file. Process environment wins.
type EnvProvider struct {
	File        string // optional .env path
	UsernameVar string
	PasswordVar string
	HostVar     string
}

// NewEnvProvider returns a provider using the default OVISS_RTSP_* names
func NewEnvProvider(file string) *EnvProvider {
	return &EnvProvider{
		File:        file,
		UsernameVar: "OVISS_RTSP_USER",
		PasswordVar: "OVISS_RTSP_PASSWORD",
		HostVar:     "OVISS_RTSP_HOST",
	}
}

// Lookup implements Provider
func (p *EnvProvider) Lookup(ctx context.Context, storeID string) (Credentials, error) {
	file := map[string]string{}
	if p.File != "" {
		vals, err := godotenv.Read(p.File)
		if err != nil && !os.IsNotExist(err) {
			return Credentials{}, fmt.Errorf("failed to read %s: %w", p.File, err)
		}
		if vals != nil {
			file = vals
		}
	}

	get := func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return file[key]
	}

	creds := Credentials{
		Username: get(p.UsernameVar),
		Password: get(p.PasswordVar),
		Host:     get(p.HostVar),
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, fmt.Errorf("env credentials for store %s: %w", storeID, err)
	}
	return creds, nil
}
