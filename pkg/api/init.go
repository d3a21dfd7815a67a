package api

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-kit/kit/log/level"
)

const (
	DefaultKeysFile  = "vault.log"
	DefaultTokenFile = ".vault-token"

	unsealKeyPrefix = "Unseal Key "
)

type InitOptions struct {
	// KeysFile receives the unseal keys after initialisation and is read
	// back when an already initialised server has to be unsealed.
	KeysFile  string
	TokenFile string
}

func (o InitOptions) withDefaults() InitOptions {
	if o.KeysFile == "" {
		o.KeysFile = DefaultKeysFile
	}
	if o.TokenFile == "" {
		o.TokenFile = DefaultTokenFile
	}
	return o
}

// Init initialises the Vault server when needed, then unseals it. Unseal
// keys are tried one at a time until the server reports it is unsealed.
func (s *caService) Init(ctx context.Context, opts InitOptions) error {
	opts = opts.withDefaults()

	h, err := s.Health(ctx)
	if err != nil {
		return err
	}

	var keys []string
	if !h.Initialized {
		var token string
		keys, token, err = s.initialize(ctx)
		if err != nil {
			return err
		}
		if err := WriteUnsealKeys(opts.KeysFile, keys); err != nil {
			return err
		}
		level.Info(s.logger).Log("msg", "Wrote the Vault unseal keys", "file", opts.KeysFile)
		if err := WriteRootToken(opts.TokenFile, token); err != nil {
			return err
		}
		level.Info(s.logger).Log("msg", "Wrote the Vault root token", "file", opts.TokenFile)
		level.Info(s.logger).Log("msg", "Initialized the Vault server")
		h.Sealed = true
	}

	if !h.Sealed {
		return nil
	}
	if keys == nil {
		keys, err = ReadUnsealKeys(opts.KeysFile)
		if err != nil {
			return err
		}
	}
	return s.unseal(ctx, keys)
}

func (s *caService) initialize(ctx context.Context) ([]string, string, error) {
	op := initOperation()
	resp, err := s.secrets.Do(ctx, op)
	if err != nil {
		return nil, "", err
	}
	raw, _ := resp.Body["keys_base64"].([]interface{})
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if key, ok := k.(string); ok {
			keys = append(keys, key)
		}
	}
	token, _ := resp.Body["root_token"].(string)
	if len(keys) == 0 || token == "" {
		return nil, "", fmt.Errorf("failed to %s: response has no unseal keys or root token", op.Name)
	}
	return keys, token, nil
}

func (s *caService) unseal(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return ErrNoUnsealKeys
	}
	for _, key := range keys {
		resp, err := s.secrets.Do(ctx, unsealOperation(key))
		if err != nil {
			return err
		}
		if !resp.Bool("sealed") {
			level.Info(s.logger).Log("msg", "Unsealed the Vault server")
			return nil
		}
	}
	return ErrStillSealed
}

// WriteUnsealKeys writes one "Unseal Key N: <key>" line per key, readable by
// the owner only.
func WriteUnsealKeys(path string, keys []string) error {
	var b strings.Builder
	for i, k := range keys {
		fmt.Fprintf(&b, "%s%d: %s\n", unsealKeyPrefix, i+1, k)
	}
	if err := writeOwnerOnly(path, b.String()); err != nil {
		return fmt.Errorf("failed to write the Vault master keys to %s: %w", path, err)
	}
	return nil
}

// ReadUnsealKeys parses a file written by WriteUnsealKeys.
func ReadUnsealKeys(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the Vault master keys from %s: %w", path, err)
	}
	defer f.Close()

	var keys []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, unsealKeyPrefix) {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		if key := strings.TrimSpace(line[idx+1:]); key != "" {
			keys = append(keys, key)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read the Vault master keys from %s: %w", path, err)
	}
	return keys, nil
}

func WriteRootToken(path, token string) error {
	if err := writeOwnerOnly(path, token+"\n"); err != nil {
		return fmt.Errorf("failed to write the Vault root token to %s: %w", path, err)
	}
	return nil
}

func writeOwnerOnly(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return err
	}
	// WriteFile keeps the mode of an existing file.
	return os.Chmod(path, 0o600)
}
