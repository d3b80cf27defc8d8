package shell

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"go.uber.org/zap"

	"github.com/wippyai/embshell/errors"
)

// DefaultBackend is used when neither flags nor the config file pick one.
const DefaultBackend = "full"

// DefaultArenaPages sizes the host address space: one 64 KiB page.
const DefaultArenaPages = 1

// Config configures a session. It is read from TOML and overridden by
// command line flags.
type Config struct {
	// Backend is the guest engine id.
	Backend string `toml:"backend" json:"backend" validate:"required,oneof=full micro lua" jsonschema:"enum=full,enum=micro,enum=lua,default=full"`
	// Globals are pre-declared names bound to the undefined sentinel.
	Globals []string `toml:"globals" json:"globals,omitempty" validate:"dive,identifier"`
	// DumpGlobals prints the pre-declared globals after execution. It is
	// implied when Globals is not empty.
	DumpGlobals bool `toml:"dump_globals" json:"dump_globals,omitempty"`
	// Lines runs every input line as its own unit over one namespace.
	Lines bool `toml:"lines" json:"lines,omitempty"`
	// ModulePath lists directories searched for guest source modules.
	ModulePath []string `toml:"module_path" json:"module_path,omitempty" validate:"dive,required"`
	// MaxSteps bounds guest execution steps; 0 keeps the backend default.
	MaxSteps uint64 `toml:"max_steps" json:"max_steps,omitempty"`
	// Cache is the path of the SQLite compile cache; empty disables it.
	Cache string `toml:"cache" json:"cache,omitempty"`
	// ArenaPages is the size of the host address space in 64 KiB pages.
	ArenaPages uint32 `toml:"arena_pages" json:"arena_pages,omitempty" validate:"gte=1,lte=1024" jsonschema:"minimum=1,maximum=1024,default=1"`
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierRe.MatchString(fl.Field().String())
	})
	return v
}

// DefaultConfig returns the configuration used without a config file.
func DefaultConfig() Config {
	return Config{
		Backend:    DefaultBackend,
		ArenaPages: DefaultArenaPages,
	}
}

// LoadConfig reads a TOML file over the defaults and validates it.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse error in "+path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	Logger().Debug("config loaded", zap.String("path", path), zap.String("backend", cfg.Backend))
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "config validation failed")
	}
	return nil
}

// Dumping reports whether the globals dump runs after execution.
func (c Config) Dumping() bool {
	return c.DumpGlobals || len(c.Globals) > 0
}

// Schema returns the JSON schema of Config.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
	}
	s := reflector.Reflect(&Config{})

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}
