package servermaster

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/phayes/freeport"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/rescloud/rescloud/model"
	"github.com/rescloud/rescloud/servermaster/rescmgr"
)

func newServerTestConfig(t *testing.T) *Config {
	port, err := freeport.GetFreePort()
	require.NoError(t, err)

	cfg := NewConfig()
	cfg.StatusAddr = fmt.Sprintf("127.0.0.1:%d", port)
	cfg.Types = []*TypeConfig{{Name: "linux"}}
	cfg.Groups = []*GroupConfig{{
		Name:  "pool",
		Type:  "linux",
		Hosts: []*HostConfig{{ID: "h1", Addr: "10.0.0.1:22"}, {ID: "h2", Addr: "10.0.0.2:22"}},
	}}
	cfg.Adjust()
	return cfg
}

func getStatus(t *testing.T, cli *http.Client, url string) []byte {
	resp, err := cli.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return body
}

func TestServerLifecycle(t *testing.T) {
	var (
		srv *Server
		mgr *rescmgr.Manager
	)
	app := fxtest.New(t, Module(newServerTestConfig(t)), fx.NopLogger, fx.Populate(&srv, &mgr))
	app.RequireStart()

	require.Same(t, srv.Manager(), mgr)
	require.NotEmpty(t, srv.StatusAddr())

	req := model.NewResourceRequest(model.User{Name: "alice"}, model.NewResourceType("linux"), 0, "build", nil)
	mr, err := mgr.HandleResourceRequest(req)
	require.NoError(t, err)
	res, err := mr.Future().WaitTimeout(time.Second)
	require.NoError(t, err)
	require.Equal(t, "h1", res.ID())

	cli := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	var st serverStatus
	require.NoError(t, json.Unmarshal(getStatus(t, cli, "http://"+srv.StatusAddr()+"/requests"), &st))
	require.Equal(t, mgr.ID(), st.ManagerID)
	require.Equal(t, 1, st.Running)
	require.Len(t, st.Requests, 1)
	require.Equal(t, "READY", st.Requests[0].State)
	require.Equal(t, "h1", st.Requests[0].Resource)

	metrics := string(getStatus(t, cli, "http://"+srv.StatusAddr()+"/metrics"))
	require.Contains(t, metrics, "rescloud_manager_requests_admitted_total")

	app.RequireStop()

	_, err = mgr.HandleResourceRequest(req)
	require.Error(t, err)
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := newServerTestConfig(t)
	cfg.Groups[0].Type = "windows"
	_, err := NewServer(cfg, nil)
	require.Error(t, err)
}
