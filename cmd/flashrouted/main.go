package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"FlashRoute/internal/api"
	"FlashRoute/internal/assets"
	"FlashRoute/internal/config"
	"FlashRoute/internal/evm"
	"FlashRoute/internal/flashloan"
	"FlashRoute/internal/journal"
	"FlashRoute/internal/notify"
	"FlashRoute/internal/pool"
	"FlashRoute/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// simVault 是 simulated 模式下二级借贷协议的流动性账户。
var simVault = common.HexToAddress("0x00000000000000000000000000000000000000fa")

// simSeed 是 simulated 模式下给资金池与借贷协议注入的初始流动性。
var simSeed, _ = new(big.Int).SetString("1000000000000000000000000", 10)

// main 是闪电贷编排守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("flashrouted 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("FLASHROUTE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "flashroute.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	self, err := parseAddress(cfg.Engine.Self, "engine.self")
	if err != nil {
		return err
	}
	operator, err := parseAddress(cfg.Engine.Operator, "engine.operator")
	if err != nil {
		return err
	}
	poolAddr, err := parseAddress(cfg.Engine.Pool, "engine.pool")
	if err != nil {
		return err
	}
	bridge, err := parseAddress(cfg.Engine.Bridge, "engine.bridge")
	if err != nil {
		return err
	}
	fee, ok := new(big.Int).SetString(cfg.Engine.Fee, 10)
	if !ok {
		return fmt.Errorf("非法的费率配置: %s", cfg.Engine.Fee)
	}

	defs, err := flashloan.LoadRouteDefinitions(cfg.Engine.RoutesFile)
	if err != nil {
		return err
	}

	var (
		ledger   pool.Ledger
		registry assets.Registry
		resolver *flashloan.Resolver
		invoker  flashloan.AgentInvoker
		exec     flashloan.Executor
		memPool  *pool.MemoryPool
	)

	switch cfg.Engine.Mode {
	case "", "simulated":
		markets := make([]common.Address, 0, len(cfg.Engine.Markets))
		for _, raw := range cfg.Engine.Markets {
			addr, err := parseAddress(raw, "engine.markets")
			if err != nil {
				return err
			}
			markets = append(markets, addr)
		}
		if len(markets) == 0 {
			return errors.New("simulated 模式需要配置 engine.markets")
		}

		memLedger := assets.NewMemoryLedger(bridge)
		for _, token := range markets {
			memLedger.SetBalance(token, poolAddr, new(big.Int).Set(simSeed))
			memLedger.SetBalance(token, simVault, new(big.Int).Set(simSeed))
		}
		memLedger.SetBalance(bridge, poolAddr, new(big.Int).Set(simSeed))
		memLedger.SetBalance(bridge, simVault, new(big.Int).Set(simSeed))

		memPool = pool.NewMemoryPool(memLedger, poolAddr, markets)
		ledger = memPool
		registry = assets.NewMemoryRegistry(memLedger, self)

		resolver = flashloan.NewResolver(bridge)
		lender := flashloan.NewSimLender(memLedger, self, simVault)
		for name := range defs.Routes {
			route, err := flashloan.ParseRoute(name)
			if err != nil {
				return err
			}
			resolver.Bind(route, lender)
		}
		invoker = flashloan.NopInvoker{Log: logger.Named("invoker")}
	case "rpc":
		client, err := evm.NewClient(ctx, evm.Config{
			Name:       cfg.Web3.Name,
			RPCURL:     cfg.Web3.RPCURL,
			PrivateKey: cfg.Web3.PrivateKey,
			GasLimit:   cfg.Web3.GasLimit,
		})
		if err != nil {
			return err
		}
		defer client.Close()

		snapshot, err := client.Snapshot(ctx)
		if err != nil {
			return err
		}
		logger.L().Info("chain connected",
			"name", snapshot.Name,
			"chain_id", snapshot.ChainID,
			"block", snapshot.BlockNumber,
		)

		registry, err = assets.NewEVMRegistry(client, bridge)
		if err != nil {
			return err
		}
		evmPool, err := pool.NewEVMPool(client, poolAddr)
		if err != nil {
			return err
		}
		ledger = evmPool

		exec = flashloan.NewChainExecutor(client)
		resolver, err = flashloan.BuildResolver(defs, bridge, exec)
		if err != nil {
			return err
		}
		invoker = flashloan.NewChainInvoker(client)
	default:
		return fmt.Errorf("未知的引擎模式: %s", cfg.Engine.Mode)
	}

	opts := []flashloan.Option{
		flashloan.WithFee(fee),
		flashloan.WithLogger(logger.Named("engine")),
	}
	if exec != nil {
		opts = append(opts, flashloan.WithExecutor(exec))
	}
	orch := flashloan.New(self, operator, poolAddr, ledger, registry, resolver, invoker, opts...)
	if memPool != nil {
		memPool.RegisterCallee(self, orch)
	}

	var store journal.Store
	switch cfg.Journal.Driver {
	case "", "memory":
		store = journal.NewMemoryStore()
	case "mysql":
		store, err = journal.NewMySQLStore(cfg.Journal.DSN)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("未知的步骤存储驱动: %s", cfg.Journal.Driver)
	}

	var publisher notify.Publisher
	switch cfg.Notify.Driver {
	case "", "none":
		publisher = notify.NopPublisher{}
	case "redis":
		publisher, err = notify.NewRedisPublisher(notify.RedisConfig{
			Address:  cfg.Notify.Redis.Address,
			Password: cfg.Notify.Redis.Password,
			DB:       cfg.Notify.Redis.DB,
			Channel:  cfg.Notify.Redis.Channel,
		})
		if err != nil {
			return err
		}
	case "rabbitmq":
		publisher, err = notify.NewRabbitMQPublisher(notify.RabbitMQConfig{
			URL:        cfg.Notify.RabbitMQ.URL,
			Queue:      cfg.Notify.RabbitMQ.Queue,
			Durable:    cfg.Notify.RabbitMQ.Durable,
			AutoDelete: cfg.Notify.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("未知的事件通道驱动: %s", cfg.Notify.Driver)
	}

	svc := journal.NewService(store, publisher)
	defer func() {
		if err := svc.Close(); err != nil {
			logger.L().Warn("close journal service failed", "error", err)
		}
	}()

	runner := flashloan.NewRunner(orch, svc)
	server := api.NewServer(cfg.Server.Address, runner, svc)

	logger.L().Info("flashrouted started",
		"address", cfg.Server.Address,
		"mode", cfg.Engine.Mode,
		"fee", fee.String(),
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func parseAddress(raw, field string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("配置 %s 不是合法地址: %q", field, raw)
	}
	return common.HexToAddress(raw), nil
}
