package action

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	sdk "github.com/kcconfig/kcconfig/pkg/sdk/v1"
)

// TypeCustom runs an executable shipped in the deployment source directory.
// The process gets the server location, realm and admin bearer token in its
// environment and talks to the admin API itself.
const TypeCustom = "custom"

// Environment handed to custom action processes.
const (
	EnvBaseURL   = "KEYCLOAK_BASE_URL"
	EnvRealm     = "KEYCLOAK_REALM"
	EnvToken     = "KEYCLOAK_TOKEN"
	EnvAction    = "KCCONFIG_ACTION"
	EnvDeployEnv = "KCCONFIG_DEPLOY_ENV"
)

// sourceDirLoader is implemented by loaders backed by a deployment directory.
type sourceDirLoader interface {
	SourceDir() string
}

type envLoader interface {
	Env() string
}

// sessionRemote is implemented by remotes that can hand their session to a
// child process.
type sessionRemote interface {
	BaseURL() string
	AccessToken() (string, error)
}

type customAction struct {
	realmScoped
	path      string
	dir       string
	args      []string
	deployEnv string
}

func newCustom(name string, desc sdk.Descriptor, loader sdk.ConfigLoader) (sdk.Action, error) {
	base, err := newRealmScoped(name, desc, "file")
	if err != nil {
		return nil, err
	}
	sl, ok := loader.(sourceDirLoader)
	if !ok {
		return nil, sdk.InvalidConfig(name, "custom actions need a deployment source directory")
	}
	dir := sl.SourceDir()
	file := desc.String("file")

	path := filepath.Join(dir, file)
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, &sdk.InvalidActionConfigurationError{Action: name, Field: "file", Reason: fmt.Sprintf("%s is outside the source directory", file)}
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, &sdk.InvalidActionConfigurationError{Action: name, Field: "file", Reason: fmt.Sprintf("%s: %v", file, err)}
	}
	if !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
		return nil, &sdk.InvalidActionConfigurationError{Action: name, Field: "file", Reason: fmt.Sprintf("%s is not an executable file", file)}
	}

	var args []string
	if raw, ok := desc["args"]; ok && raw != nil {
		list, isList := raw.([]any)
		if !isList {
			return nil, &sdk.InvalidActionConfigurationError{Action: name, Field: "args", Reason: "must be an array of strings"}
		}
		for _, v := range list {
			s, isStr := v.(string)
			if !isStr {
				return nil, &sdk.InvalidActionConfigurationError{Action: name, Field: "args", Reason: "must be an array of strings"}
			}
			args = append(args, s)
		}
	}

	a := &customAction{realmScoped: base, path: path, dir: dir, args: args}
	if el, ok := loader.(envLoader); ok {
		a.deployEnv = el.Env()
	}
	return a, nil
}

func (a *customAction) Execute(ctx context.Context, remote sdk.Remote) error {
	sr, ok := remote.(sessionRemote)
	if !ok {
		return &sdk.PreconditionError{Action: a.name, Reason: "remote cannot share its admin session"}
	}
	if err := a.requireRealm(ctx, remote); err != nil {
		return err
	}
	token, err := sr.AccessToken()
	if err != nil {
		return &sdk.PreconditionError{Action: a.name, Reason: err.Error()}
	}
	log := zerolog.Ctx(ctx).With().Str("realm", a.realm).Str("program", a.path).Logger()

	cmd := exec.CommandContext(ctx, a.path, a.args...)
	cmd.Dir = a.dir
	cmd.Env = append(os.Environ(),
		EnvBaseURL+"="+sr.BaseURL(),
		EnvRealm+"="+a.realm,
		EnvToken+"="+token,
		EnvAction+"="+a.name,
		EnvDeployEnv+"="+a.deployEnv,
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	log.Info().Msg("running custom action")
	runErr := cmd.Run()

	sc := bufio.NewScanner(&out)
	var last string
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			log.Info().Str("output", line).Msg("custom action output")
			last = line
		}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			if last != "" {
				return fmt.Errorf("custom action %s exited with status %d: %s", a.name, exitErr.ExitCode(), last)
			}
			return fmt.Errorf("custom action %s exited with status %d", a.name, exitErr.ExitCode())
		}
		return fmt.Errorf("running custom action %s: %w", a.name, runErr)
	}
	return nil
}
