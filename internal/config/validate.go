package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/cuongceg/brokerbridge/internal/codec"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// ValidateStruct runs the struct tags of any config type and flattens the
// result into one error per failing field.
func ValidateStruct(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			errs = append(errs, fmt.Errorf("%s: failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			errs = append(errs, fmt.Errorf("%s: failed %s (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}
	return joinErrors(errs)
}

var (
	inputTypes  = []string{"kafka", "rabbitmq"}
	outputTypes = []string{"kafka", "rabbitmq", "nats"}
)

func ValidateConfig(cfg *UserConfig) error {
	var allErrs []error

	if err := ValidateStruct(cfg); err != nil {
		allErrs = append(allErrs, err)
	}
	if err := validatePlugins("inputs", cfg.Inputs, inputTypes); err != nil {
		allErrs = append(allErrs, err)
	}
	if err := validatePlugins("outputs", cfg.Outputs, outputTypes); err != nil {
		allErrs = append(allErrs, err)
	}
	if err := validateUniqueNames(cfg); err != nil {
		allErrs = append(allErrs, err)
	}
	return joinErrors(allErrs)
}

func validatePlugins(section string, plugins []Plugin, kinds []string) error {
	var errs []error
	for i := range plugins {
		p := &plugins[i]
		if !codec.Known(p.Codec) {
			errs = append(errs, fmt.Errorf("%s[%d] %q: unknown codec %q (expect: %s)", section, i, p.Name, p.Codec, strings.Join(codec.Names(), "|")))
		}
		kind := strings.ToLower(p.Type)
		if !contains(kinds, kind) {
			errs = append(errs, fmt.Errorf("%s[%d] %q: unsupported type %q (expect: %s)", section, i, p.Name, p.Type, strings.Join(kinds, "|")))
			continue
		}
		switch section + "/" + kind {
		case "inputs/kafka":
			if err := requireBrokers(section, i, p, "brokers"); err != nil {
				errs = append(errs, err)
			}
			for _, key := range []string{"group_id", "topic_id"} {
				if err := requireStringParam(section, i, p, key); err != nil {
					errs = append(errs, err)
				}
			}
		case "inputs/rabbitmq":
			for _, key := range []string{"host", "queue"} {
				if err := requireStringParam(section, i, p, key); err != nil {
					errs = append(errs, err)
				}
			}
		case "outputs/kafka":
			if _, ok := p.Params["broker_list"]; ok {
				if err := requireBrokers(section, i, p, "broker_list"); err != nil {
					errs = append(errs, err)
				}
			}
		case "outputs/rabbitmq":
			if err := requireStringParam(section, i, p, "host"); err != nil {
				errs = append(errs, err)
			}
		case "outputs/nats":
			if err := requireBrokers(section, i, p, "servers"); err != nil {
				errs = append(errs, err)
			}
			if err := requireStringParam(section, i, p, "subject"); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return joinErrors(errs)
}

func validateUniqueNames(cfg *UserConfig) error {
	var errs []error
	seen := map[string]string{}
	check := func(section string, i int, name string) {
		if strings.TrimSpace(name) == "" {
			return
		}
		if prev, ok := seen[name]; ok {
			errs = append(errs, fmt.Errorf("%s[%d]: duplicate name %q (already used in %s)", section, i, name, prev))
			return
		}
		seen[name] = section
	}
	for i, p := range cfg.Inputs {
		check("inputs", i, p.Name)
	}
	for i, p := range cfg.Outputs {
		check("outputs", i, p.Name)
	}
	return joinErrors(errs)
}

// ------- Helpers

func requireStringParam(section string, idx int, p *Plugin, key string) error {
	v, ok := p.Params[key]
	if !ok {
		return fmt.Errorf("%s[%d] %q: params.%s is required", section, idx, p.Name, key)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s[%d] %q: params.%s must be non-empty string", section, idx, p.Name, key)
	}
	return nil
}

func requireBrokers(section string, idx int, p *Plugin, key string) error {
	v, ok := p.Params[key]
	if !ok {
		return fmt.Errorf("%s[%d] %q: params.%s is required", section, idx, p.Name, key)
	}
	switch vv := v.(type) {
	case []interface{}:
		if len(vv) == 0 {
			return fmt.Errorf("%s[%d] %q: params.%s must be non-empty", section, idx, p.Name, key)
		}
		for k, item := range vv {
			if _, ok := item.(string); !ok {
				return fmt.Errorf("%s[%d] %q: params.%s[%d] must be string", section, idx, p.Name, key, k)
			}
		}
	case []string:
		if len(vv) == 0 {
			return fmt.Errorf("%s[%d] %q: params.%s must be non-empty", section, idx, p.Name, key)
		}
	default:
		return fmt.Errorf("%s[%d] %q: params.%s must be []string", section, idx, p.Name, key)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func joinErrors(errs []error) error {
	var filtered []string
	for _, e := range errs {
		if e != nil {
			filtered = append(filtered, e.Error())
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return errors.New(strings.Join(filtered, "\n"))
}
