// Package precheck evaluates whether the radio stack is usable before any
// side-effecting command is issued: hardware present, powered on, and the
// required host permissions granted.
package precheck

import (
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/btlink/internal/platform"
)

// Checker runs the precondition evaluation against a platform adapter.
//
// Checks are stateless: radio power and permission grants can change
// between calls, so every Check re-queries the adapter and nothing is
// cached.
type Checker struct {
	adapter platform.Adapter
	logger  *logrus.Logger
}

// NewChecker creates a precondition checker.
func NewChecker(adapter platform.Adapter, logger *logrus.Logger) *Checker {
	if logger == nil {
		logger = logrus.New()
	}

	return &Checker{
		adapter: adapter,
		logger:  logger,
	}
}

// Check evaluates, in order: radio supported, radio enabled, permissions.
// With requireScanPermissions the scan-specific permission set is required
// on top of the base set.
//
// Permission evaluation never short-circuits: the returned error carries
// the complete set of missing permissions in declaration order.
func (c *Checker) Check(requireScanPermissions bool) error {
	if !c.adapter.RadioSupported() {
		c.logger.Warn("Radio hardware not present")
		return platform.ErrUnsupported
	}

	if !c.adapter.RadioEnabled() {
		c.logger.Warn("Radio is powered off")
		return platform.ErrDisabled
	}

	required := orderedmap.New[string, struct{}]()
	for _, name := range platform.BasePermissions() {
		required.Set(name, struct{}{})
	}
	if requireScanPermissions {
		for _, name := range platform.ScanPermissions() {
			required.Set(name, struct{}{})
		}
	}

	var missing []string
	for pair := required.Oldest(); pair != nil; pair = pair.Next() {
		if !c.adapter.HasPermission(pair.Key) {
			missing = append(missing, pair.Key)
		}
	}

	if len(missing) > 0 {
		c.logger.WithFields(logrus.Fields{
			"missing": missing,
			"scan":    requireScanPermissions,
		}).Warn("Permissions missing")
		return &platform.PreconditionError{Kind: platform.PermissionDenied, Missing: missing}
	}

	return nil
}
