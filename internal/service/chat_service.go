// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"math/rand"
	"sentorial-chat/internal/config"
	"sentorial-chat/internal/history"
	"sentorial-chat/internal/model"
	"sentorial-chat/internal/pipeline"
	"sentorial-chat/internal/repository"
	"sentorial-chat/pkg/log"
	"sentorial-chat/pkg/metrics"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrResolutionInFlight 表示同一会话上一条消息尚未处理完。
	ErrResolutionInFlight = errors.New("该会话已有消息正在处理")
	// ErrEmptyMessage 表示消息内容为空。
	ErrEmptyMessage = errors.New("消息内容不能为空")
)

// Reply 是一次对话回合的结果。
type Reply struct {
	UserMessage model.Message   `json:"userMessage"`
	BotMessage  model.Message   `json:"botMessage"`
	Result      pipeline.Result `json:"result"`
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// NewDeviceID 生成一个新的设备标识，作为会话分区键。
	NewDeviceID() string
	// SendMessage 记录用户消息、解析回复并记录机器人消息。同一会话同时只处理一条。
	SendMessage(ctx context.Context, conversationID, text string) (*Reply, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	ClearMessages(ctx context.Context, conversationID string) error
	Subscribe(ctx context.Context, conversationID string) (<-chan model.MessageEvent, func(), error)
	QuickMessages(ctx context.Context) ([]string, error)
}

// ResolverFactory 为新会话创建 Resolver（及其历史缓冲）。
type ResolverFactory func(conversationID string) *pipeline.Resolver

var seedCounter int64

// NewResolverFactory 基于共享的应答表、生成式阶段和未知问题记录器构造 ResolverFactory。
// 每个会话拥有独立的历史缓冲和随机源。
func NewResolverFactory(
	responses pipeline.ResponseSource,
	generative pipeline.Answerer,
	recorder pipeline.UnknownRecorder,
	cfg config.ChatConfig,
	m *metrics.Metrics,
) ResolverFactory {
	return func(string) *pipeline.Resolver {
		seed := time.Now().UnixNano() + atomic.AddInt64(&seedCounter, 1)
		return pipeline.NewResolver(
			responses,
			generative,
			recorder,
			history.NewBuffer(cfg.HistorySize),
			rand.New(rand.NewSource(seed)),
			cfg.FallbackProbability,
			m,
		)
	}
}

// 未指定时的会话空闲回收时长
const defaultSessionIdleTTL = time.Hour

type session struct {
	inFlight sync.Mutex
	resolver *pipeline.Resolver
	lastUsed time.Time
}

type chatService struct {
	messageRepo repository.MessageRepository
	quickRepo   repository.QuickMessageRepository
	newResolver ResolverFactory
	metrics     *metrics.Metrics
	idleTTL     time.Duration
	now         func() time.Time

	mu        sync.Mutex
	sessions  map[string]*session
	lastSweep time.Time
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	messageRepo repository.MessageRepository,
	quickRepo repository.QuickMessageRepository,
	newResolver ResolverFactory,
	idleTTL time.Duration,
	m *metrics.Metrics,
) ChatService {
	if idleTTL <= 0 {
		idleTTL = defaultSessionIdleTTL
	}
	return &chatService{
		messageRepo: messageRepo,
		quickRepo:   quickRepo,
		newResolver: newResolver,
		metrics:     m,
		idleTTL:     idleTTL,
		now:         time.Now,
		sessions:    make(map[string]*session),
	}
}

func (s *chatService) NewDeviceID() string {
	return uuid.NewString()
}

// session 返回会话对应的 Resolver，首次使用时创建。空闲超过 idleTTL 的会话会被回收，
// 回收后再次使用将以空历史重新创建。
func (s *chatService) session(conversationID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.evictIdleLocked(now)
	sess, ok := s.sessions[conversationID]
	if !ok {
		sess = &session{resolver: s.newResolver(conversationID)}
		s.sessions[conversationID] = sess
		s.metrics.ConversationOpened()
	}
	sess.lastUsed = now
	return sess
}

// evictIdleLocked 回收空闲会话，正在处理消息的会话跳过。调用方需持有 s.mu。
func (s *chatService) evictIdleLocked(now time.Time) {
	interval := s.idleTTL
	if interval > time.Minute {
		interval = time.Minute
	}
	if now.Sub(s.lastSweep) < interval {
		return
	}
	s.lastSweep = now
	for id, sess := range s.sessions {
		if now.Sub(sess.lastUsed) < s.idleTTL {
			continue
		}
		if !sess.inFlight.TryLock() {
			continue
		}
		delete(s.sessions, id)
		sess.inFlight.Unlock()
		s.metrics.ConversationClosed()
	}
}

// SendMessage 执行一次完整的对话回合。消息存储失败只记录日志，回合照常完成。
func (s *chatService) SendMessage(ctx context.Context, conversationID, text string) (*Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	sess := s.session(conversationID)
	if !sess.inFlight.TryLock() {
		return nil, ErrResolutionInFlight
	}
	defer sess.inFlight.Unlock()

	// 回合一旦开始就运行到终态，不随请求取消
	ctx = context.WithoutCancel(ctx)
	logger := log.With("conversation", conversationID)

	reply := &Reply{}
	userMsg, err := s.messageRepo.Append(ctx, conversationID, model.SenderUser, text)
	if err != nil {
		logger.Errorw("保存用户消息失败", "error", err)
	}
	reply.UserMessage = userMsg

	reply.Result = sess.resolver.Resolve(ctx, text)

	botMsg, err := s.messageRepo.Append(ctx, conversationID, model.SenderBot, reply.Result.Text)
	if err != nil {
		logger.Errorw("保存机器人消息失败", "error", err)
	}
	reply.BotMessage = botMsg
	return reply, nil
}

func (s *chatService) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	return s.messageRepo.List(ctx, conversationID)
}

// ClearMessages 清空会话消息，同时重置该会话的历史缓冲。
func (s *chatService) ClearMessages(ctx context.Context, conversationID string) error {
	if err := s.messageRepo.Clear(ctx, conversationID); err != nil {
		return err
	}
	s.mu.Lock()
	sess, ok := s.sessions[conversationID]
	s.mu.Unlock()
	if ok {
		sess.resolver.History().Reset()
	}
	return nil
}

func (s *chatService) Subscribe(ctx context.Context, conversationID string) (<-chan model.MessageEvent, func(), error) {
	return s.messageRepo.Subscribe(ctx, conversationID)
}

func (s *chatService) QuickMessages(ctx context.Context) ([]string, error) {
	return s.quickRepo.GetAll(ctx)
}
