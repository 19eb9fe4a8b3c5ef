// Package loader reads workflow definitions from local or remote storage
// and decodes them into the model, gating on structural validation.
package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"

	"github.com/windflow-ai/windflow/model"
)

// Service loads workflow definitions. URLs are resolved through the afs
// virtual filesystem, so file, embedded and cloud schemes all work.
type Service struct {
	fs afs.Service
}

// New creates a loader service.
func New() *Service {
	return &Service{fs: afs.New()}
}

// Load reads and decodes the workflow at URL. A missing extension defaults
// to .yaml. The returned workflow has passed structural validation.
func (s *Service) Load(ctx context.Context, URL string) (*model.Workflow, error) {
	if filepath.Ext(URL) == "" {
		URL += ".yaml"
	}
	data, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow from %s: %w", URL, err)
	}
	workflow, err := s.DecodeYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse workflow from %s: %w", URL, err)
	}
	if workflow.Name == "" {
		workflow.Name = nameFromURL(URL)
	}
	if issues := workflow.Validate(); len(issues) > 0 {
		return nil, issues[0]
	}
	return workflow, nil
}

// DecodeYAML decodes a workflow definition without validating it.
func (s *Service) DecodeYAML(encoded []byte) (*model.Workflow, error) {
	workflow := &model.Workflow{}
	if err := yaml.Unmarshal(encoded, workflow); err != nil {
		return nil, err
	}
	return workflow, nil
}

// Validate loads the workflow at URL and returns every structural and
// template issue found instead of stopping at the first. Template checks
// verify references without rendering, so no provider is needed.
func (s *Service) Validate(ctx context.Context, URL string) (*model.Workflow, []error, error) {
	if filepath.Ext(URL) == "" {
		URL += ".yaml"
	}
	data, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load workflow from %s: %w", URL, err)
	}
	workflow, err := s.DecodeYAML(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse workflow from %s: %w", URL, err)
	}
	if workflow.Name == "" {
		workflow.Name = nameFromURL(URL)
	}
	issues := workflow.Validate()
	if len(issues) == 0 {
		issues = lintTemplates(workflow)
	}
	return workflow, issues, nil
}

func nameFromURL(URL string) string {
	base := filepath.Base(URL)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
