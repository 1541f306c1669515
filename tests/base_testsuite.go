package tests

import (
	"context"
	"fmt"
	"testing"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/frame/datastore/pool"
	"github.com/pitabwire/frame/frametests"
	"github.com/pitabwire/frame/frametests/definition"
	"github.com/pitabwire/frame/frametests/deps/testpostgres"
	"github.com/pitabwire/frame/workerpool"
	"github.com/pitabwire/util"
	"github.com/stretchr/testify/require"

	mconfig "github.com/antinvestor/service-messaging/config"
	"github.com/antinvestor/service-messaging/service/business"
	"github.com/antinvestor/service-messaging/service/queues"
	"github.com/antinvestor/service-messaging/service/repository"
)

const PostgresqlDBImage = "postgres:latest"

const (
	DefaultRandomStringLength = 8
)

type BaseTestSuite struct {
	frametests.FrameBaseTestSuite
}

func initResources(_ context.Context) []definition.TestResource {
	pg := testpostgres.NewWithOpts("service_messaging",
		definition.WithUserName("ant"),
		definition.WithImageName(PostgresqlDBImage),
		definition.WithEnableLogging(true))
	resources := []definition.TestResource{pg}
	return resources
}

func (bs *BaseTestSuite) SetupSuite() {
	bs.InitResourceFunc = initResources
	bs.FrameBaseTestSuite.SetupSuite()
}

// noopEmitter satisfies the live emitter without any connected sessions.
type noopEmitter struct{}

func (noopEmitter) EmitToProfile(_ context.Context, _ string, _ *business.ServerEvent) bool {
	return false
}

func (bs *BaseTestSuite) CreateService(
	t *testing.T,
	depOpts *definition.DependencyOption,
) (context.Context, *frame.Service) {
	t.Setenv("OTEL_TRACES_EXPORTER", "none")

	ctx := t.Context()
	cfg, err := config.FromEnv[mconfig.MessagingConfig]()
	require.NoError(t, err)

	cfg.LogLevel = "debug"
	cfg.RunServiceSecurely = false
	cfg.ServerPort = ""

	res := depOpts.ByIsDatabase(ctx)
	testDS, cleanup, err0 := res.GetRandomisedDS(t.Context(), depOpts.Prefix())
	require.NoError(t, err0)

	t.Cleanup(func() {
		cleanup(t.Context())
	})

	cfg.DatabaseTraceQueries = true
	cfg.DatabasePrimaryURL = []string{testDS.String()}
	cfg.DatabaseReplicaURL = []string{testDS.String()}

	ctx, svc := frame.NewServiceWithContext(t.Context(), "messaging tests",
		frame.WithConfig(&cfg),
		frametests.WithNoopDriver())

	svc.Init(ctx, frame.WithDatastore())

	err = repository.Migrate(ctx, svc, "../../migrations/0001")
	require.NoError(t, err)

	dbPool := svc.DatastoreManager().GetPool(ctx, datastore.DefaultPoolName)
	workMan := svc.WorkManager()
	notificationRepo := repository.NewNotificationRepository(ctx, dbPool, workMan)

	fanoutQueueName := fmt.Sprintf(cfg.QueueNotificationFanoutName, 0)
	fanoutQueueURI := cfg.QueueNotificationFanoutURI[0]

	serviceOptions := []frame.Option{
		frame.WithRegisterPublisher(fanoutQueueName, fanoutQueueURI),
		frame.WithRegisterSubscriber(
			fanoutQueueName,
			fanoutQueueURI,
			queues.NewNotificationFanoutQueueHandler(notificationRepo, noopEmitter{}),
		),
		frame.WithRegisterPublisher(cfg.QueueDeadLetterName, cfg.QueueDeadLetterURI),
	}

	// Initialize the service with all options
	svc.Init(ctx, serviceOptions...)

	// Run the service
	err = svc.Run(ctx, "")
	require.NoError(t, err)

	return ctx, svc
}

// GetRepoDeps is a helper to create repository dependencies
func (bs *BaseTestSuite) GetRepoDeps(ctx context.Context, svc *frame.Service) (workerpool.Manager, pool.Pool) {
	workMan := svc.WorkManager()
	dbPool := svc.DatastoreManager().GetPool(ctx, datastore.DefaultPoolName)
	return workMan, dbPool
}

func (bs *BaseTestSuite) TearDownSuite() {
	bs.FrameBaseTestSuite.TearDownSuite()
}

// WithTestDependencies Creates subtests with each known DependencyOption.
func (bs *BaseTestSuite) WithTestDependencies(
	t *testing.T,
	testFn func(t *testing.T, dep *definition.DependencyOption),
) {
	options := []*definition.DependencyOption{
		definition.NewDependancyOption("default", util.RandomString(DefaultRandomStringLength), bs.Resources()),
	}

	frametests.WithTestDependencies(t, options, testFn)
}
