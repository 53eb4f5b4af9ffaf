// Package app 按配置组装各组件，负责启动和优雅退出
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/config"
	"github.com/ew384/social-auto-upload-sub000/internal/credential"
	"github.com/ew384/social-auto-upload-sub000/internal/database"
	"github.com/ew384/social-auto-upload-sub000/internal/platform"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/browser"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/login"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/recipe"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/runner"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/session"
	"github.com/ew384/social-auto-upload-sub000/internal/scheduler"
	"github.com/ew384/social-auto-upload-sub000/internal/service"
	"github.com/ew384/social-auto-upload-sub000/internal/utils"

	"gorm.io/gorm"
)

// App 进程内全部组件
type App struct {
	cfg *config.AppConfig
	db  *gorm.DB

	Client    *browser.Client
	Book      *recipe.Book
	Store     credential.Store
	Sessions  *session.Orchestrator
	Runner    *runner.Runner
	Observer  *login.Observer
	Accounts  *service.AccountService
	Logs      *service.LogService
	Scheduler *scheduler.Scheduler

	status      *http.Server
	cancelWatch context.CancelFunc
	watchDone   chan struct{}
	stopOnce    sync.Once
	stopErr     error
}

// New 按配置创建组件，不访问浏览器壳
func New(cfg *config.AppConfig) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	if err := utils.InitLogger(cfg); err != nil {
		return nil, fmt.Errorf("init logger failed: %w", err)
	}
	logs := service.NewLogService(0)
	utils.SetLogService(logs)

	book := platform.DefaultBook()
	if n, err := recipe.LoadOverrides(cfg.RecipePath, book); err != nil {
		logs.Close()
		return nil, fmt.Errorf("load recipe overrides failed: %w", err)
	} else if n > 0 {
		utils.Info(fmt.Sprintf("[+] 已加载 %d 个配方覆盖", n))
	}

	db, err := database.Open(cfg.DbPath)
	if err != nil {
		logs.Close()
		return nil, err
	}
	store := database.NewAccountStore(db)

	client := browser.NewClient(cfg.Shell)
	sessions := session.New(client, store, book, cfg.Session)
	rn := runner.New(client, book, cfg.Workflow)
	observer := login.New(client, book, store, cfg.Login)

	sched := scheduler.New(db, sessions, rn, scheduler.Options{
		Workers:      cfg.UploadConcurrency,
		PollInterval: cfg.SchedulerPoll.Duration,
	})

	return &App{
		cfg:       cfg,
		db:        db,
		Client:    client,
		Book:      book,
		Store:     store,
		Sessions:  sessions,
		Runner:    rn,
		Observer:  observer,
		Accounts:  service.NewAccountService(store, sessions, observer, cfg.CookiePath),
		Logs:      logs,
		Scheduler: sched,
	}, nil
}

// Start 检查浏览器壳、对齐注册表、监听凭证目录并启动调度器
//
// 壳暂时不可用时只记录警告，注册表会在下一次获取会话时重新对齐。
func (a *App) Start(ctx context.Context) error {
	if err := a.Client.Health(ctx); err != nil {
		utils.Warn(fmt.Sprintf("[-] 浏览器壳不可用 (%s): %v", a.Client.BaseURL(), err))
	} else if _, err := a.Sessions.Reconcile(ctx); err != nil {
		utils.Warn(fmt.Sprintf("[-] 启动时对齐标签页失败: %v", err))
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	removed, err := credential.Watch(watchCtx, a.cfg.CookiePath)
	if err != nil {
		cancel()
		return err
	}
	a.cancelWatch = cancel
	a.watchDone = make(chan struct{})
	go func() {
		defer close(a.watchDone)
		for id := range removed {
			a.Sessions.Invalidate(watchCtx, id)
		}
	}()

	if err := a.Scheduler.Start(); err != nil {
		return err
	}

	if a.cfg.StatusAddr != "" {
		a.status = &http.Server{
			Addr:              a.cfg.StatusAddr,
			Handler:           NewStatusHandler(a),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := a.status.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				utils.Error(fmt.Sprintf("[-] 状态接口启动失败: %v", err))
			}
		}()
		utils.Info(fmt.Sprintf("[+] 状态接口: http://%s", a.cfg.StatusAddr))
	}

	utils.Success("[+] 启动完成")
	return nil
}

// Shutdown 依次停止调度器、凭证监听、会话编排器和日志服务，可重复调用
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		var errs []error
		if a.status != nil {
			errs = append(errs, a.status.Shutdown(ctx))
		}
		errs = append(errs, a.Scheduler.Stop(ctx))
		if a.cancelWatch != nil {
			a.cancelWatch()
			<-a.watchDone
		}
		errs = append(errs, a.Sessions.Shutdown(ctx))
		utils.SetLogService(nil)
		a.Logs.Close()
		errs = append(errs, database.Close(a.db))
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}
