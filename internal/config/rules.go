package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/RemoteLoginCore/internal/login"
)

type detectorFile struct {
	Detector login.Rules `yaml:"detector"`
}

// LoadDetectorRules reads login surface rules from a YAML file. A missing file
// yields the built-in defaults; fields absent from the file keep their defaults.
func LoadDetectorRules(path string) (login.Rules, error) {
	rules := login.DefaultRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return rules, nil
	}
	if err != nil {
		return login.Rules{}, fmt.Errorf("detector rules: %w", err)
	}
	file := detectorFile{Detector: rules}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return login.Rules{}, fmt.Errorf("detector rules: %w", err)
	}
	for i, s := range file.Detector.LoginSurfaces {
		if s == "" || s[0] != '/' {
			return login.Rules{}, fmt.Errorf("detector rules: login_surfaces[%d] must start with /", i)
		}
	}
	return file.Detector, nil
}

// ApplyCookieNames overrides rules with any login URL or cookie names set in
// the environment.
func (c *GatewayConfig) ApplyCookieNames(rules login.Rules) login.Rules {
	if c.AuthCookie != "" {
		rules.AuthCookie = c.AuthCookie
	}
	if c.OptionalCookie != "" {
		rules.OptionalCookie = c.OptionalCookie
	}
	if c.LoginURL != "" {
		rules.LoginURL = c.LoginURL
	}
	return rules
}
