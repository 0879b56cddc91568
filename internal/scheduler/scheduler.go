// Package scheduler 负责定时任务，目前用于每日备份应答表。
package scheduler

import (
	"context"
	"sentorial-chat/pkg/log"
	"time"

	"github.com/robfig/cron/v3"
)

// BackupFunc 执行一次备份并返回对象名。
type BackupFunc func(ctx context.Context) (string, error)

// Scheduler 管理定时任务。
type Scheduler struct {
	cron   *cron.Cron
	spec   string
	backup BackupFunc
	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建一个按 UTC 时区解析 cron 表达式的调度器。
func New(spec string, backup BackupFunc) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		spec:   spec,
		backup: backup,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 注册备份任务并启动调度。spec 为空或未设置备份函数时不启动。
func (s *Scheduler) Start() error {
	if s.spec == "" || s.backup == nil {
		log.Warnf("备份任务未配置, 调度器不启动")
		return nil
	}

	_, err := s.cron.AddFunc(s.spec, func() {
		object, err := s.backup(s.ctx)
		if err != nil {
			log.Error("定时备份应答表失败", err)
			return
		}
		log.Infof("定时备份完成: %s", object)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	log.Infof("调度器已启动, 备份计划: %s (UTC)", s.spec)
	return nil
}

// Stop 停止调度并等待正在执行的任务结束。
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	log.Info("调度器已停止")
}

// IsRunning 检查调度器是否注册了任务。
func (s *Scheduler) IsRunning() bool {
	return s.cron != nil && len(s.cron.Entries()) > 0
}
