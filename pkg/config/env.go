package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type envSetter func(value string) error

func setString(dst *string) envSetter {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func setInt(dst *int) envSetter {
	return func(v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func setBool(dst *bool) envSetter {
	return func(v string) error {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		default:
			return fmt.Errorf("not a boolean: %q", v)
		}
		return nil
	}
}

func setDuration(dst *time.Duration) envSetter {
	return func(v string) error {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

// envBindings maps variable names (without EnvPrefix) onto config fields.
func (c *Config) envBindings() map[string]envSetter {
	return map[string]envSetter{
		"PROXY_LISTEN":              setString(&c.Proxy.Listen),
		"PROXY_UPSTREAM":            setString(&c.Proxy.Upstream),
		"PROXY_DIAL_TIMEOUT":        setDuration(&c.Proxy.DialTimeout),
		"PROXY_READ_BUFFER":         setInt(&c.Proxy.ReadBuffer),
		"PROXY_MAX_PENDING_SUBMITS": setInt(&c.Proxy.MaxPendingSubmits),
		"PROXY_STRICT_FRAMING":      setBool(&c.Proxy.StrictFraming),
		"PROXY_METRICS":             setString(&c.Proxy.Metrics),

		"SHARE_BLOCK_REWARD": setString(&c.Share.BlockReward),
		"SHARE_DIFF1_TARGET": setString(&c.Share.Diff1Target),
		"SHARE_TIMEOUT":      setDuration(&c.Share.Timeout),

		"PAYOUT_INTERVAL":          setDuration(&c.Payout.Interval),
		"PAYOUT_SENDING_FEE":       setString(&c.Payout.SendingFee),
		"PAYOUT_MIN_CONFIRMATIONS": setInt(&c.Payout.MinConfirmations),
		"PAYOUT_SOURCE_ADDRESS":    setString(&c.Payout.SourceAddress),
		"PAYOUT_FIND_LIMIT":        setInt(&c.Payout.FindLimit),

		"RPC_HOST":          setString(&c.RPC.Host),
		"RPC_USER":          setString(&c.RPC.User),
		"RPC_PASS":          setString(&c.RPC.Pass),
		"RPC_TLS":           setBool(&c.RPC.TLS),
		"RPC_MAX_IN_FLIGHT": setInt(&c.RPC.MaxInFlight),

		"STORE_PATH": setString(&c.Store.Path),

		"LOG_LEVEL":  setString(&c.Log.Level),
		"LOG_FORMAT": setString(&c.Log.Format),
	}
}

// EnvKeys lists every recognised environment variable, sorted.
func EnvKeys() []string {
	bindings := DefaultConfig().envBindings()
	keys := make([]string, 0, len(bindings))
	for k := range bindings {
		keys = append(keys, EnvPrefix+k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for key, set := range c.envBindings() {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		if err := set(v); err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
		}
	}
	return nil
}
