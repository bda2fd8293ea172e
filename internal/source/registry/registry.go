// Package registry builds the source adapter for a stored service config.
package registry

import (
	"fmt"

	"github.com/nhle/notifyhub/internal/model"
	"github.com/nhle/notifyhub/internal/source"
	"github.com/nhle/notifyhub/internal/source/email"
	"github.com/nhle/notifyhub/internal/source/github"
	"github.com/nhle/notifyhub/internal/source/gitlab"
	"github.com/nhle/notifyhub/internal/source/jira"
)

// Build returns the adapter serving cfg's service type. It wraps
// source.ErrUnsupported for types without an adapter.
func Build(cfg model.ServiceConfig) (source.Source, error) {
	switch cfg.ServiceType {
	case model.ServiceTypeJira:
		return jira.NewAdapter(cfg)
	case model.ServiceTypeEmail:
		return email.NewAdapter(cfg)
	case model.ServiceTypeGithub:
		return github.NewAdapter(cfg)
	case model.ServiceTypeGitlab:
		return gitlab.NewAdapter(cfg)
	}
	return nil, fmt.Errorf("%w %s", source.ErrUnsupported, cfg.ServiceType)
}
