package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/SWAI-Ltd/topicbridge/internal/config"
	"github.com/SWAI-Ltd/topicbridge/internal/crypto"
	"github.com/SWAI-Ltd/topicbridge/internal/domain"
	"github.com/SWAI-Ltd/topicbridge/internal/manager"
	"github.com/SWAI-Ltd/topicbridge/internal/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func testConfig(t *testing.T, rendezvous string) config.Config {
	t.Helper()
	cert := filepath.Join(t.TempDir(), "robot-private.pem")
	require.NoError(t, os.WriteFile(cert, []byte("test-certificate"), 0o600))

	cfg := config.Default()
	cfg.CertificatePath = cert
	cfg.Rendezvous.Addr = rendezvous
	cfg.Domain.Kind = config.DomainMemory
	cfg.DiscoveryInterval = 20 * time.Millisecond
	cfg.Topics = []config.Topic{{Name: "/odom", Type: "nav_msgs/msg/Odometry", Action: "subscribe"}}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestAppStartsAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv, err := mesh.RunRendezvous(ctx, "127.0.0.1:0", nil)
	require.NoError(t, err)

	var (
		d   domain.Domain
		mgr *manager.Manager
	)
	app := fxtest.New(t, Module(testConfig(t, srv.Addr())), fx.Populate(&d, &mgr))
	app.RequireStart()

	// The configured bridge dials the rendezvous server and waits there.
	require.Eventually(t, func() bool { _, n := srv.Pending(); return n == 1 }, 5*time.Second, 10*time.Millisecond)

	mem, ok := d.(*domain.Memory)
	require.True(t, ok)
	mem.Declare("/cmd_vel", "geometry_msgs/msg/Twist")
	require.Eventually(t, func() bool { a, _ := srv.Pending(); return a == 1 }, 5*time.Second, 10*time.Millisecond)

	app.RequireStop()
	assert.Equal(t, 2, mgr.Registry().Len())
}

func TestAppFailsWithoutCertificate(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1:1")
	cfg.CertificatePath = filepath.Join(t.TempDir(), "missing.pem")

	app := fx.New(Module(cfg))
	assert.ErrorIs(t, app.Err(), crypto.ErrNoCertificate)
}
