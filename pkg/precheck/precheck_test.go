package precheck_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/btlink/internal/platform"
	"github.com/srg/btlink/internal/testutils"
	"github.com/srg/btlink/pkg/precheck"
)

func TestCheckPasses(t *testing.T) {
	h := testutils.NewTestHelper(t)
	checker := precheck.NewChecker(testutils.NewFakeAdapter(), h.Logger)

	assert.NoError(t, checker.Check(false))
	assert.NoError(t, checker.Check(true))
}

func TestCheckUnsupported(t *testing.T) {
	h := testutils.NewTestHelper(t)
	adapter := testutils.NewFakeAdapter().WithRadioSupported(false)
	checker := precheck.NewChecker(adapter, h.Logger)

	err := checker.Check(false)
	require.Error(t, err)
	assert.ErrorIs(t, err, platform.ErrUnsupported)
}

func TestCheckDisabled(t *testing.T) {
	h := testutils.NewTestHelper(t)
	adapter := testutils.NewFakeAdapter().WithRadioEnabled(false)
	checker := precheck.NewChecker(adapter, h.Logger)

	err := checker.Check(false)
	require.Error(t, err)
	assert.ErrorIs(t, err, platform.ErrDisabled)
}

func TestCheckReportsAllMissingPermissions(t *testing.T) {
	h := testutils.NewTestHelper(t)
	adapter := testutils.NewFakeAdapter().
		WithPermissionDenied(platform.PermBluetooth, platform.PermBluetoothConnect)
	checker := precheck.NewChecker(adapter, h.Logger)

	err := checker.Check(false)
	require.Error(t, err)
	assert.ErrorIs(t, err, platform.ErrPermissionDenied)

	var perr *platform.PreconditionError
	require.ErrorAs(t, err, &perr)
	// The complete missing set, not just the first failure.
	assert.Equal(t, []string{platform.PermBluetooth, platform.PermBluetoothConnect}, perr.Missing)
}

func TestCheckScanPermissionsOnlyWhenRequired(t *testing.T) {
	h := testutils.NewTestHelper(t)
	adapter := testutils.NewFakeAdapter().
		WithPermissionDenied(platform.PermBluetoothScan)
	checker := precheck.NewChecker(adapter, h.Logger)

	// Base check ignores the scan permission set.
	assert.NoError(t, checker.Check(false))

	err := checker.Check(true)
	require.Error(t, err)
	var perr *platform.PreconditionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []string{platform.PermBluetoothScan}, perr.Missing)
}

func TestCheckIsStateless(t *testing.T) {
	h := testutils.NewTestHelper(t)
	adapter := testutils.NewFakeAdapter().WithRadioEnabled(false)
	checker := precheck.NewChecker(adapter, h.Logger)

	require.ErrorIs(t, checker.Check(false), platform.ErrDisabled)

	// Radio comes back on between calls; no cached verdict.
	adapter.WithRadioEnabled(true)
	assert.NoError(t, checker.Check(false))
}
