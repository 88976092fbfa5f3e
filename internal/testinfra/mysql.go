//go:build integration

package testinfra

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/oagudo/newsletter/internal/migrations"
)

const (
	mysqlImage    = "mysql:8.4"
	mysqlPassword = "password"
	mysqlDB       = "newsletter"
)

// NewMySQLDB starts a MySQL container, applies the migrations and returns an
// open handle. parseTime is set so DATETIME columns scan into time.Time.
func NewMySQLDB(t *testing.T) *sql.DB {
	t.Helper()
	SkipIfNoDocker(t)

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        mysqlImage,
			ExposedPorts: []string{"3306/tcp"},
			Env: map[string]string{
				"MYSQL_ROOT_PASSWORD": mysqlPassword,
				"MYSQL_DATABASE":      mysqlDB,
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("ready for connections").WithOccurrence(2),
				wait.ForListeningPort("3306/tcp"),
			).WithDeadline(120 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("root:%s@tcp(%s:%s)/%s?parseTime=true",
		mysqlPassword, host, port.Port(), mysqlDB)

	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	require.Eventually(t, func() bool { return db.Ping() == nil }, 60*time.Second, 500*time.Millisecond)
	require.NoError(t, migrations.Up(db, "mysql"))

	return db
}
