package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/hamed0406/opsmonitor/internal/domain"
)

// SeedService is one entry of the seed file.
type SeedService struct {
	Name           string           `yaml:"name"`
	URL            string           `yaml:"url"`
	CheckType      domain.CheckKind `yaml:"check_type"`
	ExpectedStatus int              `yaml:"expected_status"`
	Active         *bool            `yaml:"is_active"`
}

type seedFile struct {
	Services []SeedService `yaml:"services"`
}

// LoadSeed reads a YAML seed file of the form:
//
//	services:
//	  - name: GitHub
//	    url: https://github.com
//	    check_type: http
func LoadSeed(path string) ([]domain.Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) ([]domain.Target, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	out := make([]domain.Target, 0, len(f.Services))
	var errs error
	for i, s := range f.Services {
		s.applyDefaults()
		if err := s.validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("services[%d]: %w", i, err))
			continue
		}
		out = append(out, domain.Target{
			Name:           s.Name,
			URL:            s.URL,
			Kind:           s.CheckType,
			ExpectedStatus: s.ExpectedStatus,
			Active:         *s.Active,
		})
	}
	if errs != nil {
		return nil, errs
	}
	return out, nil
}

func (s *SeedService) applyDefaults() {
	if s.CheckType == "" {
		s.CheckType = domain.KindHTTP
	}
	if s.ExpectedStatus == 0 {
		s.ExpectedStatus = 200
	}
	if s.Active == nil {
		active := true
		s.Active = &active
	}
}

func (s SeedService) validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.URL == "" {
		return errors.New("url is required")
	}
	if !s.CheckType.Valid() {
		return fmt.Errorf("unknown check_type %q", s.CheckType)
	}
	if s.CheckType == domain.KindHTTP {
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid http url %q", s.URL)
		}
	}
	if s.ExpectedStatus < 100 || s.ExpectedStatus > 599 {
		return fmt.Errorf("expected_status %d out of range", s.ExpectedStatus)
	}
	return nil
}
