package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
	kList
	kIDList
)

type setting struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

// account is the secrets file entry name for a secret key.
func (s setting) account() string {
	return strings.ReplaceAll(s.key, ".", "_")
}

var settings = []setting{
	{
		key: "server.port", typ: kInt, env: "CHPUSAGE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "CHPUSAGE_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CHPUSAGE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "CHPUSAGE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "chp.url", typ: kString, env: "CHPUSAGE_CHP_URL",
		apply:   func(cfg *Config, v any) { cfg.CHP.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.CHP.URL },
	},
	{
		key: "chp.token", typ: kString, env: "CHPUSAGE_CHP_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.CHP.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.CHP.Token },
	},
	{
		key: "chp.users", typ: kIDList, env: "CHPUSAGE_CHP_USERS",
		apply:   func(cfg *Config, v any) { cfg.CHP.Users = v.([]int64) },
		extract: func(cfg Config) any { return cfg.CHP.Users },
	},
	{
		key: "chp.xml_template", typ: kString, env: "CHPUSAGE_CHP_XML_TEMPLATE",
		apply:   func(cfg *Config, v any) { cfg.CHP.XMLTemplate = v.(string) },
		extract: func(cfg Config) any { return cfg.CHP.XMLTemplate },
	},
	{
		key: "chp.xml_template_file", typ: kString, env: "CHPUSAGE_CHP_XML_TEMPLATE_FILE",
		apply:   func(cfg *Config, v any) { cfg.CHP.XMLTemplateFile = v.(string) },
		extract: func(cfg Config) any { return cfg.CHP.XMLTemplateFile },
	},
	{
		key: "slack.url", typ: kString, env: "CHPUSAGE_SLACK_URL",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Slack.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Slack.URL },
	},
	{
		key: "slack.channel", typ: kString, env: "CHPUSAGE_SLACK_CHANNEL",
		apply:   func(cfg *Config, v any) { cfg.Slack.Channel = v.(string) },
		extract: func(cfg Config) any { return cfg.Slack.Channel },
	},
	{
		key: "posts.enabled_types", typ: kList, env: "CHPUSAGE_POSTS_ENABLED_TYPES",
		apply:   func(cfg *Config, v any) { cfg.Posts.EnabledTypes = v.([]string) },
		extract: func(cfg Config) any { return cfg.Posts.EnabledTypes },
	},
	{
		key: "images.meta_keys", typ: kList, env: "CHPUSAGE_IMAGES_META_KEYS",
		apply:   func(cfg *Config, v any) { cfg.Images.MetaKeys = v.([]string) },
		extract: func(cfg Config) any { return cfg.Images.MetaKeys },
	},
	{
		key: "authors.coauthors", typ: kBool, env: "CHPUSAGE_AUTHORS_COAUTHORS",
		apply:   func(cfg *Config, v any) { cfg.Authors.CoAuthors = v.(bool) },
		extract: func(cfg Config) any { return cfg.Authors.CoAuthors },
	},
	{
		key: "media.upload_author", typ: kInt, env: "CHPUSAGE_MEDIA_UPLOAD_AUTHOR",
		apply:   func(cfg *Config, v any) { cfg.Media.UploadAuthor = int64(v.(int)) },
		extract: func(cfg Config) any { return cfg.Media.UploadAuthor },
	},
	{
		key: "retry.max", typ: kInt, env: "CHPUSAGE_RETRY_MAX",
		apply:   func(cfg *Config, v any) { cfg.Retry.Max = v.(int) },
		extract: func(cfg Config) any { return cfg.Retry.Max },
	},
	{
		key: "retry.delay", typ: kDuration, env: "CHPUSAGE_RETRY_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Retry.Delay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retry.Delay },
	},
	{
		key: "retry.publish_delay", typ: kDuration, env: "CHPUSAGE_RETRY_PUBLISH_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Retry.PublishDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retry.PublishDelay },
	},
	{
		key: "sweep.window", typ: kDuration, env: "CHPUSAGE_SWEEP_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Sweep.Window = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sweep.Window },
	},
	{
		key: "sweep.page_size", typ: kInt, env: "CHPUSAGE_SWEEP_PAGE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Sweep.PageSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Sweep.PageSize },
	},
	{
		key: "sweep.throttle", typ: kDuration, env: "CHPUSAGE_SWEEP_THROTTLE",
		apply:   func(cfg *Config, v any) { cfg.Sweep.Throttle = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sweep.Throttle },
	},
}

// parseValue converts a raw string into the value type apply expects.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kString:
		return raw, nil
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return time.ParseDuration(raw)
	case kList:
		return splitList(raw), nil
	case kIDList:
		var ids []int64
		for _, part := range splitList(raw) {
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
	return nil, fmt.Errorf("unknown key type %d", typ)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func formatValue(v any) string {
	switch val := v.(type) {
	case []string:
		return strings.Join(val, ",")
	case []int64:
		parts := make([]string, len(val))
		for i, id := range val {
			parts[i] = strconv.FormatInt(id, 10)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range settings {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok {
				continue
			}
			parsed, err := parseValue(s.typ, v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, v, err)
				continue
			}
			s.apply(cfg, parsed)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range settings {
		if s.env == "" {
			continue
		}
		raw, set := os.LookupEnv(s.env)
		if !set || (raw == "" && s.typ != kList && s.typ != kIDList) {
			continue
		}
		parsed, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, parsed)
	}
}
