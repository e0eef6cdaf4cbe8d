package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// ErrMissing means no API key was found for the configured provider.
var ErrMissing = errors.New("summarization api key is not set")

// GenericEnv is checked after the provider's own variable.
const GenericEnv = "NEWSDIGEST_API_KEY"

// DefaultEnvFile is where keys entered at the prompt are saved.
const DefaultEnvFile = ".env"

var providerEnv = map[string]string{
	"anthropic": "CLAUDE_API_KEY",
	"gemini":    "GEMINI_API_KEY",
	"openai":    "OPENAI_API_KEY",
}

// EnvName returns the environment variable holding provider's key.
func EnvName(provider string) string {
	if name, ok := providerEnv[strings.ToLower(provider)]; ok {
		return name
	}
	return GenericEnv
}

// LoadEnv loads variables from path into the process environment without
// overriding ones already set. A missing file is not an error.
func LoadEnv(path string) error {
	if path == "" {
		path = DefaultEnvFile
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Lookup returns the key for provider. override, when set, names the only
// variable consulted.
func Lookup(provider, override string) (string, error) {
	names := []string{EnvName(provider), GenericEnv}
	if override != "" {
		names = []string{override}
	}
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: set %s", ErrMissing, strings.Join(names, " or "))
}

// Save stores name=value in the env file at path, keeping the other
// variables already there, and sets it for the running process.
func Save(path, name, value string) error {
	if path == "" {
		path = DefaultEnvFile
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ErrMissing
	}

	env, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read %s: %w", path, err)
		}
		env = map[string]string{}
	}
	env[name] = value

	if err := writeEnv(path, env); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Setenv(name, value)
}

// writeEnv replaces the env file, restricting it to the owner before any key
// is written.
func writeEnv(path string, env map[string]string) error {
	content, err := godotenv.Marshal(env)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		return err
	}
	if _, err := f.WriteString(content + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
