package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/valyala/fasttemplate"
)

// ErrMissingEnv is returned when a ${VAR} reference names an unset variable.
var ErrMissingEnv = errors.New("config: environment variable not set")

// legacyEnv maps config keys to the unprefixed variables older deployments export.
var legacyEnv = map[string]string{
	"stream.chain_id":            "CHAIN_ID",
	"stream.expected_block_time": "EXPECTED_BLOCK_TIME",
	"stream.poll_interval":       "POLL_INTERVAL_S",
	"stream.lag_threshold":       "LAG_THRESHOLD_S",
	"stream.failure_ratio":       "FAILURE_RATIO",
	"stream.score_half_life":     "SCORE_HALFLIFE_S",
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, name := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return fmt.Errorf("bind env %s: %w", name, err)
		}
	}
	return nil
}

// expandEnv replaces ${VAR} references in s with values from the environment.
func expandEnv(s string) (string, error) {
	return fasttemplate.ExecuteFuncStringWithErr(s, "${", "}", func(w io.Writer, tag string) (int, error) {
		name := strings.TrimSpace(tag)
		value, ok := os.LookupEnv(name)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrMissingEnv, name)
		}
		return w.Write([]byte(value))
	})
}

// secondsToDurationHook reads bare numbers as seconds so `poll_interval: 2` and
// POLL_INTERVAL_S=2.5 keep working next to Go duration strings.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) || from == to {
			return data, nil
		}

		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return time.Duration(reflect.ValueOf(data).Uint()) * time.Second, nil
		case reflect.Float32, reflect.Float64:
			return seconds(reflect.ValueOf(data).Float()), nil
		case reflect.String:
			raw := strings.TrimSpace(data.(string))
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				return seconds(f), nil
			}
			return data, nil
		default:
			return data, nil
		}
	}
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
