package cli

import (
	"context"
	"errors"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	. "github.com/lybxkl/snode/common/log"
	"github.com/lybxkl/snode/mqtt/client"
	"github.com/lybxkl/snode/mqtt/processor"
	"github.com/lybxkl/snode/mqtt/server"
	mqttsvc "github.com/lybxkl/snode/mqtt/service"
	"github.com/lybxkl/snode/remoting"
	snodeclient "github.com/lybxkl/snode/snode/client"
	"github.com/lybxkl/snode/snode/gcfg"
	"github.com/lybxkl/snode/snode/service"
	"github.com/lybxkl/snode/util/gopool"
	"github.com/lybxkl/snode/util/middleware"
)

// slowConsumerLogPerSecond 慢消费告警每秒最多输出条数
const slowConsumerLogPerSecond = 10

// Start 加载配置并启动 snode，收到 SIGINT/SIGTERM 后退出
func Start(configPath string) error {
	cfg, err := gcfg.Load(configPath)
	if err != nil {
		return err
	}

	// 日志初始化
	NewGLog(cfg.Log.GetLevel())
	defer Log.Close()
	Log.Infof("snode %s starting\n%s", cfg.Snode.Name, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, cfg)
}

func run(ctx context.Context, cfg *gcfg.GConfig) error {
	poolCloser := gopool.InitServiceTaskPool(cfg.Snode.ServerTaskPoolSize)

	rpcClient := remoting.NewTcpRemotingClient(remoting.ClientConfig{
		ConnectTimeout: cfg.Snode.ConnectTimeout(),
		WriteTimeout:   time.Duration(cfg.Mqtt.WriteTimeout) * time.Second,
		WriteQueueSize: cfg.Snode.WriteQueueSize,
		ScanInterval:   time.Second,
	})
	rpcClient.Start()

	offsets := service.NewLocalConsumerOffsetManager()
	enode := service.NewRemoteEnodeService(rpcClient, service.NewStaticNnodeService(cfg.Snode.Enodes), offsets, cfg.Snode)
	slow := snodeclient.NewSlowConsumerService(offsets, cfg.Snode.SlowConsumerThreshold, slowConsumerLogPerSecond)

	manager := client.NewIOTClientManager(cfg.Mqtt.ResendInterval())
	scheduler := mqttsvc.NewMqttScheduledService(manager, enode, cfg.Mqtt)

	var options []middleware.Option
	if cfg.Mqtt.TraceMessages {
		options = append(options, middleware.WithConsole())
	}
	proc := processor.NewDefaultMqttMessageProcessor(manager, enode, slow, cfg, options...)

	svr, err := server.NewServer(cfg.Mqtt.MqttAddr, proc, cfg.Mqtt)
	if err != nil {
		return err
	}
	// 先关连接，再停调度和 rpc，最后释放协程池
	svr.AddCloser(closerFunc(func() error {
		proc.Shutdown()
		scheduler.Shutdown()
		rpcClient.Shutdown()
		return poolCloser.Close()
	}))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(svr.ListenAndServe)
	scheduler.StartScheduleTask()

	var httpServers []*http.Server
	if ws := wsServer(cfg.Mqtt); ws != nil {
		httpServers = append(httpServers, ws)
	}
	if cfg.PProf.Open {
		// go tool pprof -http=:8000 http://localhost:6060/debug/pprof/heap
		httpServers = append(httpServers, &http.Server{Addr: cfg.PProf.Addr, Handler: http.DefaultServeMux})
	}
	for _, hs := range httpServers {
		hs := hs
		g.Go(func() error {
			Log.Infof("http listen on %s", hs.Addr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		Log.Infof("服务停止：%v", context.Cause(ctx))
		for _, hs := range httpServers {
			_ = hs.Close()
		}
		return svr.Shutdown()
	})
	return g.Wait()
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
