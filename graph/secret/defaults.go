package secret

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultsFile is the on-disk shape of the process-wide secret
// fallbacks, one logical key per entry:
//
//	secrets:
//	  openai_api_key: sk-...
//	  slack_webhook_url: https://hooks.slack.com/...
type defaultsFile struct {
	Secrets map[string]string `yaml:"secrets"`
}

// LoadDefaults reads the process-wide default secrets from a YAML file.
// Missing file is not an error — deployments without defaults simply
// rely on per-node config and the vault.
func LoadDefaults(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("secret: open defaults %s: %w", path, err)
	}
	defer f.Close()
	return ParseDefaults(f)
}

// ParseDefaults decodes the defaults document from r.
func ParseDefaults(r io.Reader) (map[string]string, error) {
	var doc defaultsFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("secret: parse defaults: %w", err)
	}
	return doc.Secrets, nil
}
