package node

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"github.com/cipherseq/cipherseq/core/types"
)

// LoadConfig parses a TOML-like configuration from raw bytes into a
// Config. The parser handles key = value pairs and [section] headers with
// string, integer and boolean values; unset keys keep their defaults.
func LoadConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	section := ""

	lines := strings.Split(string(data), "\n")
	for lineNum, raw := range lines {
		line := strings.TrimSpace(raw)

		// Skip empty lines and comments.
		if line == "" || line[0] == '#' {
			continue
		}

		// Section header.
		if line[0] == '[' {
			end := strings.Index(line, "]")
			if end < 0 {
				return Config{}, fmt.Errorf("line %d: unclosed section header", lineNum+1)
			}
			section = strings.TrimSpace(line[1:end])
			continue
		}

		// Key = value pair.
		eqIdx := strings.Index(line, "=")
		if eqIdx < 0 {
			return Config{}, fmt.Errorf("line %d: expected key = value", lineNum+1)
		}
		key := strings.TrimSpace(line[:eqIdx])
		val := strings.TrimSpace(line[eqIdx+1:])

		if err := applyConfigValue(&cfg, section, key, val, lineNum+1); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyConfigValue sets a single configuration field based on section, key, value.
func applyConfigValue(cfg *Config, section, key, val string, lineNum int) error {
	switch section {
	case "":
		return applyTopLevel(cfg, key, val, lineNum)
	case "registry":
		return applyRegistry(cfg, key, val, lineNum)
	case "ceremony":
		return applyCeremony(cfg, key, val, lineNum)
	case "keys":
		return applyKeys(cfg, key, val, lineNum)
	case "queue":
		return applyQueue(cfg, key, val, lineNum)
	case "execution":
		return applyExecution(cfg, key, val, lineNum)
	default:
		return fmt.Errorf("line %d: unknown section [%s]", lineNum, section)
	}
}

func applyTopLevel(cfg *Config, key, val string, lineNum int) error {
	switch key {
	case "admin":
		cfg.Admin = types.HexToAddress(unquote(val))
	case "vault":
		cfg.Vault = types.HexToAddress(unquote(val))
	default:
		return fmt.Errorf("line %d: unknown key %q", lineNum, key)
	}
	return nil
}

func applyRegistry(cfg *Config, key, val string, lineNum int) error {
	switch key {
	case "min_stake":
		amount, err := parseAmount(val)
		if err != nil {
			return fmt.Errorf("line %d: invalid min_stake: %v", lineNum, err)
		}
		cfg.Registry.MinStake = amount
	case "max_keypers":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("line %d: invalid max_keypers: %v", lineNum, err)
		}
		cfg.Registry.MaxKeypers = n
	default:
		return fmt.Errorf("line %d: unknown key %q in [registry]", lineNum, key)
	}
	return nil
}

func applyCeremony(cfg *Config, key, val string, lineNum int) error {
	switch key {
	case "threshold":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("line %d: invalid threshold: %v", lineNum, err)
		}
		cfg.Ceremony.Threshold = n
	case "registration_window":
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid registration_window: %v", lineNum, err)
		}
		cfg.Ceremony.RegistrationWindow = n
	case "dealing_window":
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid dealing_window: %v", lineNum, err)
		}
		cfg.Ceremony.DealingWindow = n
	default:
		return fmt.Errorf("line %d: unknown key %q in [ceremony]", lineNum, key)
	}
	return nil
}

func applyKeys(cfg *Config, key, val string, lineNum int) error {
	switch key {
	case "validity_window":
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid validity_window: %v", lineNum, err)
		}
		cfg.Keys.KeyValidityWindow = n
	default:
		return fmt.Errorf("line %d: unknown key %q in [keys]", lineNum, key)
	}
	return nil
}

func applyQueue(cfg *Config, key, val string, lineNum int) error {
	switch key {
	case "max_payload_size":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("line %d: invalid max_payload_size: %v", lineNum, err)
		}
		cfg.Queue.MaxPayloadSize = n
	case "min_budget":
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid min_budget: %v", lineNum, err)
		}
		cfg.Queue.MinBudget = n
	case "max_budget":
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid max_budget: %v", lineNum, err)
		}
		cfg.Queue.MaxBudget = n
	case "decryption_timeout":
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid decryption_timeout: %v", lineNum, err)
		}
		cfg.Queue.DecryptionTimeout = n
	case "max_queue_size":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("line %d: invalid max_queue_size: %v", lineNum, err)
		}
		cfg.Queue.MaxQueueSize = n
	case "max_per_sender_per_height":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("line %d: invalid max_per_sender_per_height: %v", lineNum, err)
		}
		cfg.Queue.MaxPerSenderPerHeight = n
	default:
		return fmt.Errorf("line %d: unknown key %q in [queue]", lineNum, key)
	}
	return nil
}

func applyExecution(cfg *Config, key, val string, lineNum int) error {
	switch key {
	case "base_cost":
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid base_cost: %v", lineNum, err)
		}
		cfg.BaseExecutionCost = n
	case "data_byte_cost":
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid data_byte_cost: %v", lineNum, err)
		}
		cfg.DataByteCost = n
	default:
		return fmt.Errorf("line %d: unknown key %q in [execution]", lineNum, key)
	}
	return nil
}

// parseAmount reads a decimal amount into a uint256.
func parseAmount(val string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(unquote(val))
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// unquote strips surrounding double quotes, if present.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
