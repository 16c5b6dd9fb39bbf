package settings

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// EnvAPIKey is the engine-independent API key variable.
const EnvAPIKey = "RENLOKIT_API_KEY"

// EnvFileName is the dotenv file looked up in the project root.
const EnvFileName = ".env"

// providerEnv maps provider IDs to their conventional variables.
var providerEnv = map[string]string{
	"deepl":         "DEEPL_API_KEY",
	"gemini":        "GEMINI_API_KEY",
	"groq":          "GROQ_API_KEY",
	"openai":        "OPENAI_API_KEY",
	"anthropic":     "ANTHROPIC_API_KEY",
	"custom-openai": "CUSTOM_OPENAI_API_KEY",
}

// EnvVars returns the variables consulted for a provider, most specific
// first.
func EnvVars(providerID string) []string {
	var vars []string
	if v, ok := providerEnv[providerID]; ok {
		vars = append(vars, v)
	}
	return append(vars, EnvAPIKey)
}

// LoadEnv reads dir/.env without touching the process environment. A
// missing file yields an empty map.
func LoadEnv(dir string) (map[string]string, error) {
	path := filepath.Join(dir, EnvFileName)
	env, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	return env, nil
}

// Key sources reported by ResolveAPIKey.
const (
	SourceFlag    = "flag"
	SourceEnv     = "environment"
	SourceEnvFile = ".env"
	SourceStore   = "auth.json"
)

// ResolveAPIKey finds the key for providerID in flag, the environment,
// dotenv and the credential store, in that order. source names where it
// was found; both are empty when there is no key.
func ResolveAPIKey(providerID, flag string, dotenv map[string]string) (key, source string) {
	if flag = strings.TrimSpace(flag); flag != "" {
		return flag, SourceFlag
	}
	for _, v := range EnvVars(providerID) {
		if k := strings.TrimSpace(os.Getenv(v)); k != "" {
			return k, SourceEnv
		}
	}
	for _, v := range EnvVars(providerID) {
		if k := strings.TrimSpace(dotenv[v]); k != "" {
			return k, SourceEnvFile
		}
	}
	if k := GetAPIKey(providerID); k != "" {
		return k, SourceStore
	}
	return "", ""
}

// List returns the provider IDs with stored credentials, sorted.
func List() []string {
	store := Load()
	ids := make([]string, 0, len(store))
	for id := range store {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
