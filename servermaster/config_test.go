package servermaster

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/multierr"

	"github.com/rescloud/rescloud/model"
	"github.com/rescloud/rescloud/pkg/clock"
	derror "github.com/rescloud/rescloud/pkg/errors"
	"github.com/rescloud/rescloud/pkg/promutil"
	"github.com/rescloud/rescloud/pkg/resourcegroup"
	"github.com/rescloud/rescloud/servermaster/rescmgr"
)

func TestMain(m *testing.M) {
	// fx installs signal handlers on start, and the signal loop never exits.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("os/signal.signal_recv"),
		goleak.IgnoreTopFunction("os/signal.loop"))
}

const (
	sampleTOML = "../sample/config/rescloud.toml"
	sampleYAML = "../sample/config/rescloud.yaml"
)

func writeConfig(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConfigFromTOML(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	require.NoError(t, cfg.ConfigFromFile(sampleTOML))
	cfg.Adjust()
	require.NoError(t, cfg.Validate())

	require.Equal(t, "127.0.0.1:10240", cfg.StatusAddr)
	require.Equal(t, 30*time.Second, cfg.Timeouts.ResourceOrphanTimeout)
	require.Len(t, cfg.Types, 2)
	require.Equal(t, "gpu", cfg.Types[1].DisplayName)
	require.Len(t, cfg.Groups, 3)
	require.True(t, cfg.Groups[0].LimitUsers)
	require.Equal(t, []model.User{{Name: "alice", Source: "ldap"}, {Name: "bob", Source: "ldap"}}, cfg.Groups[0].Users)
	require.True(t, cfg.Groups[0].Hosts[1].ReinitOnRelease)
	require.Len(t, cfg.Authorizations, 1)

	out, err := cfg.Toml()
	require.NoError(t, err)
	require.Contains(t, out, `status-addr = "127.0.0.1:10240"`)
	require.Contains(t, out, `id = "build-02"`)
	require.Contains(t, cfg.String(), `"display-name":"Linux x64 build hosts"`)
}

func TestConfigFromYAML(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	require.NoError(t, cfg.ConfigFromFile(sampleYAML))
	cfg.Adjust()
	require.NoError(t, cfg.Validate())

	require.Equal(t, "default", cfg.Types[0].Policy)
	require.Equal(t, "round-robin", cfg.Types[1].Policy)
	require.Len(t, cfg.Groups[0].Hosts, 2)
	require.Equal(t, 10*time.Minute, cfg.Timeouts.RequestRetention)
}

func TestConfigUnknownItem(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "bad.toml", "log-level = \"debug\"\nno-such-item = 1\n")
	err := NewConfig().ConfigFromFile(path)
	require.True(t, derror.ErrConfigUnknownItem.Equal(err), "%+v", err)
	require.Contains(t, err.Error(), "no-such-item")

	path = writeConfig(t, "bad.yaml", "log-level: debug\nno-such-item: 1\n")
	err = NewConfig().ConfigFromFile(path)
	require.True(t, derror.ErrConfigUnknownItem.Equal(err), "%+v", err)

	path = writeConfig(t, "broken.toml", "log-level = \n")
	err = NewConfig().ConfigFromFile(path)
	require.ErrorContains(t, err, "RESCLOUD:ErrConfigDecode")
}

func TestConfigValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	cfg.LogFormat = "xml"
	cfg.Types = []*TypeConfig{{Name: "linux", Policy: "random"}}
	cfg.Groups = []*GroupConfig{
		{Name: "a", Type: "windows", Hosts: []*HostConfig{{ID: "h1"}}},
		{Name: "b", Type: "linux", Users: []model.User{{Name: "alice"}}, Hosts: []*HostConfig{{ID: "h1"}}},
	}
	cfg.Authorizations = []*AuthorizationConfig{{Type: "linux", User: "alice", NiceLevel: 99}}

	err := cfg.Validate()
	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 6)

	var unknownType, unknownPolicy int
	for _, e := range errs {
		switch {
		case derror.ErrUnknownResourceType.Equal(e):
			unknownType++
		case derror.ErrUnknownPolicy.Equal(e):
			unknownPolicy++
		default:
			require.True(t, derror.ErrConfigInvalid.Equal(e), "%+v", e)
		}
	}
	require.Equal(t, 1, unknownType)
	require.Equal(t, 1, unknownPolicy)

	_, err = cfg.Build(clock.NewMock())
	require.Error(t, err)
}

func TestConfigBuild(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	require.NoError(t, cfg.ConfigFromFile(sampleTOML))
	cfg.Adjust()

	clk := clock.NewMock()
	rt, err := cfg.Build(clk)
	require.NoError(t, err)
	require.Len(t, rt.Hosts, 5)
	for _, h := range rt.Hosts {
		require.Equal(t, model.ResourceReady, h.State())
	}
	require.Len(t, rt.Registry.Modules(), 2)
	require.NotNil(t, rt.Authz)

	ids := rt.Groups.GroupIDs()
	require.Len(t, ids, 3)
	require.Equal(t, "release-team", rt.Groups.GroupName(ids[0]))
	linux := resourcegroup.GroupsOfType(rt.Groups, model.NewResourceType("linux-x64"))
	require.Len(t, linux, 2)
	require.True(t, resourcegroup.IsLimitingUsers(linux[0].Group))
	require.True(t, resourcegroup.IsVisibleTo(linux[0].Group, model.User{Name: "alice", Source: "ldap"}))
	require.False(t, resourcegroup.IsVisibleTo(linux[0].Group, model.User{Name: "carol"}))

	auth, restricted, found := rt.Authz.Lookup(model.User{Name: "alice", Source: "ldap"}, model.NewResourceType("gpu"))
	require.True(t, restricted)
	require.True(t, found)
	require.Equal(t, 1, auth.MaxResources)

	opts := append(cfg.ManagerOptions(rt, clk), rescmgr.WithMetricRegistry(promutil.NewRegistry()))
	mgr := rescmgr.NewManager(rt.Groups, opts...)
	require.NoError(t, mgr.Start())
	defer mgr.Close()

	req := model.NewResourceRequest(model.User{Name: "carol"}, model.NewResourceType("linux-x64"), 0, "build", nil)
	mr, err := mgr.HandleResourceRequest(req)
	require.NoError(t, err)
	res, err := mr.Future().WaitTimeout(time.Second)
	require.NoError(t, err)
	require.Equal(t, "build-03", res.ID())

	req = model.NewResourceRequest(model.User{Name: "carol"}, model.NewResourceType("gpu"), 0, "train", nil)
	_, err = mgr.HandleResourceRequest(req)
	require.True(t, derror.ErrUserNotAuthorized.Equal(err), "%+v", err)
}
