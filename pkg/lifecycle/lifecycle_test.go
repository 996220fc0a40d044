package lifecycle

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safiul0073/CodeLift/pkg/config"
)

var testCommands = config.Commands{
	EnterMaintenance:    []string{"php", "artisan", "down", "--secret={secret}"},
	ExitMaintenance:     []string{"php", "artisan", "up"},
	InstallDependencies: []string{"composer", "update"},
	ClearCaches:         []string{"php", "artisan", "optimize:clear"},
	Migrate:             []string{"php", "artisan", "migrate"},
}

func mockCommands(t *testing.T, output string, err error) *[][]string {
	var ran [][]string
	runCommand = func(cmd *exec.Cmd) ([]byte, error) {
		assert.Equal(t, "/var/www/shop", cmd.Dir)
		ran = append(ran, cmd.Args)
		return []byte(output), err
	}
	lookPath = func(file string) (string, error) {
		return "/usr/bin/" + file, nil
	}
	t.Cleanup(func() {
		runCommand = func(cmd *exec.Cmd) ([]byte, error) { return cmd.CombinedOutput() }
		lookPath = exec.LookPath
	})
	return &ran
}

func TestCommands(t *testing.T) {
	ran := mockCommands(t, "", nil)
	ctx := context.Background()
	commands := NewCommands("/var/www/shop", testCommands)

	require.NoError(t, commands.EnterMaintenance(ctx, "s3cret"))
	require.NoError(t, commands.InstallDependencies(ctx))
	require.NoError(t, commands.ClearCaches(ctx))
	require.NoError(t, commands.RunMigrations(ctx, true))
	require.NoError(t, commands.ExitMaintenance(ctx))

	assert.Equal(t, [][]string{
		{"php", "artisan", "down", "--secret=s3cret"},
		{"composer", "update"},
		{"php", "artisan", "optimize:clear"},
		{"php", "artisan", "migrate", "--force"},
		{"php", "artisan", "up"},
	}, *ran)

	// The configured commands aren't modified.
	assert.Equal(t, []string{"php", "artisan", "migrate"}, testCommands.Migrate)
	assert.Equal(t, "--secret={secret}", testCommands.EnterMaintenance[3])
}

func TestMigrationsWithoutForce(t *testing.T) {
	ran := mockCommands(t, "", nil)
	require.NoError(t, NewCommands("/var/www/shop", testCommands).
		RunMigrations(context.Background(), false))
	assert.Equal(t, [][]string{{"php", "artisan", "migrate"}}, *ran)
}

func TestInstallDependenciesMissingTool(t *testing.T) {
	ran := mockCommands(t, "", nil)
	lookPath = func(file string) (string, error) {
		return "", exec.ErrNotFound
	}

	require.NoError(t, NewCommands("/var/www/shop", testCommands).
		InstallDependencies(context.Background()))
	assert.Empty(t, *ran)
}

func TestCommandFailure(t *testing.T) {
	mockCommands(t, "SQLSTATE[HY000] Connection refused", assert.AnError)

	err := NewCommands("/var/www/shop", testCommands).RunMigrations(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run migrations")
	assert.Contains(t, err.Error(), "Connection refused")
}

func TestUnconfiguredCommand(t *testing.T) {
	ran := mockCommands(t, "", assert.AnError)

	commands := NewCommands("/var/www/shop", config.Commands{})
	ctx := context.Background()
	assert.NoError(t, commands.EnterMaintenance(ctx, "s3cret"))
	assert.NoError(t, commands.InstallDependencies(ctx))
	assert.NoError(t, commands.ClearCaches(ctx))
	assert.NoError(t, commands.RunMigrations(ctx, true))
	assert.NoError(t, commands.ExitMaintenance(ctx))
	assert.Empty(t, *ran)
}

func TestRedact(t *testing.T) {
	assert.Equal(t,
		[]string{"php", "artisan", "down", "--secret=***", "--secret", "***"},
		redact([]string{"php", "artisan", "down", "--secret=abc", "--secret", "abc"}))
}
