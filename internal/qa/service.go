package qa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"docbrain/internal/credits"
	"docbrain/internal/logger"
	"docbrain/internal/providers"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var (
	ErrDocumentNotFound = errors.New("文档不存在")
	ErrDocumentNotReady = errors.New("文档仍在处理中，请稍后再试")
	ErrUploadInProgress = errors.New("文档正在上传到检索服务")
	ErrRetrievalFailed  = errors.New("检索服务处理文档失败")
	ErrEntryNotFound    = errors.New("问答记录不存在")
	ErrEmptyQuestion    = errors.New("问题不能为空")

	// ErrQuestionInProgress 同一文档同一时间只回答一个问题
	ErrQuestionInProgress = errors.New("该文档已有问题正在回答，请稍后再试")
)

const (
	answerSystemPrompt  = "你是文档问答助手。只根据提供的文档片段回答问题；片段不足以回答时请直接说明。使用与问题相同的语言回答。"
	summarySystemPrompt = "你是文档摘要助手。用简洁的要点概括文档的主要内容，使用文档本身的语言。"
	noContextAnswer     = "未在文档中找到与该问题相关的内容。"
)

// ProfileSource 读取最新的用户资料
type ProfileSource interface {
	Fetch(ctx context.Context, uid string) (credits.Profile, error)
}

// BilledRunner 计费执行
type BilledRunner interface {
	RunBilled(ctx context.Context, kind credits.OperationKind, profile credits.Profile, op credits.Operation) error
	ResolveKey(kind credits.OperationKind, profile credits.Profile) (credits.Funding, error)
}

// UploadScheduler 把上传任务交给后台执行
type UploadScheduler interface {
	ScheduleUpload(ctx context.Context, uid, docID string) error
}

// Config 问答配置
type Config struct {
	PollInterval     time.Duration
	ReadyTimeout     time.Duration
	TopK             int
	MaxContextTokens int
	UploadLeaseTTL   time.Duration
}

func (c Config) normalize() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 3 * time.Minute
	}
	if c.TopK <= 0 {
		c.TopK = 6
	}
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = 3000
	}
	if c.UploadLeaseTTL <= 0 {
		c.UploadLeaseTTL = c.ReadyTimeout + time.Minute
	}
	return c
}

// Dependencies 外部依赖
type Dependencies struct {
	DB        *gorm.DB
	Files     *FileStorage
	Profiles  ProfileSource
	Billing   BilledRunner
	Parser    providers.Parser
	Retriever providers.Retriever
	Generator providers.Generator
	Lease     UploadLease  // 可选，默认进程内
	Tokens    TokenCounter    // 可选，默认 tiktoken
	Scheduler UploadScheduler // 可选，默认进程内 goroutine
	Logger    *zap.Logger
}

// Service 文档问答服务
type Service struct {
	db        *gorm.DB
	files     *FileStorage
	profiles  ProfileSource
	billing   BilledRunner
	parser    providers.Parser
	retriever providers.Retriever
	generator providers.Generator
	lease     UploadLease
	tokens    TokenCounter
	scheduler UploadScheduler
	cfg       Config
	log       *zap.Logger

	uploads    singleflight.Group
	background sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]*Answer
}

// NewService 创建问答服务
func NewService(deps Dependencies, cfg Config) *Service {
	s := &Service{
		db:        deps.DB,
		files:     deps.Files,
		profiles:  deps.Profiles,
		billing:   deps.Billing,
		parser:    deps.Parser,
		retriever: deps.Retriever,
		generator: deps.Generator,
		lease:     deps.Lease,
		tokens:    deps.Tokens,
		scheduler: deps.Scheduler,
		cfg:       cfg.normalize(),
		log:       logger.OrNop(deps.Logger),
		inflight:  make(map[string]*Answer),
	}
	if s.lease == nil {
		s.lease = localLease{}
	}
	if s.tokens == nil {
		s.tokens = NewTokenCounter()
	}
	return s
}

// AutoMigrate 迁移问答相关表
func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(&Document{}, &Entry{})
}

// ============ 文档 ============

// CreateDocument 保存文件并登记文档
func (s *Service) CreateDocument(ctx context.Context, uid, name string, content io.Reader) (*Document, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("文件名不能为空")
	}
	path, size, err := s.files.Save(uid, name, content)
	if err != nil {
		return nil, err
	}
	doc := &Document{
		ID:              uuid.New().String(),
		UID:             uid,
		Name:            name,
		StoragePath:     path,
		Size:            size,
		RetrievalStatus: StatusNotUploaded,
	}
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		s.files.Remove(path)
		return nil, fmt.Errorf("保存文档失败: %w", err)
	}
	return doc, nil
}

// GetDocument 读取当前用户的文档
func (s *Service) GetDocument(ctx context.Context, uid, docID string) (*Document, error) {
	var doc Document
	err := s.db.WithContext(ctx).Where("id = ? AND uid = ?", docID, uid).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("查询文档失败: %w", err)
	}
	return &doc, nil
}

// ListDocuments 列出用户的文档
func (s *Service) ListDocuments(ctx context.Context, uid string) ([]Document, error) {
	var docs []Document
	if err := s.db.WithContext(ctx).Where("uid = ?", uid).Order("created_at DESC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("查询文档失败: %w", err)
	}
	return docs, nil
}

func (s *Service) setStatus(ctx context.Context, docID string, fields map[string]any) error {
	return s.db.WithContext(ctx).Model(&Document{}).Where("id = ?", docID).Updates(fields).Error
}

// ============ 上传到检索服务 ============

// EnsureUploaded 确保文档已在检索服务中可用
// 同一文档同一时间只会发起一次上传：进程内合并并发请求，跨进程依赖租约
// 上传不受单个调用方取消的影响，调用方取消时只是自己停止等待
func (s *Service) EnsureUploaded(ctx context.Context, uid, docID string) (*Document, error) {
	doc, err := s.GetDocument(ctx, uid, docID)
	if err != nil {
		return nil, err
	}
	if doc.RetrievalStatus == StatusReady {
		return doc, nil
	}

	uploadCtx := context.WithoutCancel(ctx)
	ch := s.uploads.DoChan(docID, func() (any, error) {
		return s.upload(uploadCtx, uid, docID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Document), nil
	}
}

// StartUpload 把文档交给后台上传并立即返回，调用方通过 GetDocument 轮询状态
func (s *Service) StartUpload(ctx context.Context, uid, docID string) (*Document, error) {
	doc, err := s.GetDocument(ctx, uid, docID)
	if err != nil {
		return nil, err
	}
	if doc.RetrievalStatus == StatusReady {
		return doc, nil
	}
	// 提交前确认有可用密钥，避免后台任务注定失败
	profile, err := s.profiles.Fetch(ctx, uid)
	if err != nil {
		return nil, err
	}
	if _, err := s.billing.ResolveKey(credits.KindRetrieve, profile); err != nil {
		return nil, err
	}

	previous := doc.RetrievalStatus
	if previous != StatusUploading {
		if err := s.setStatus(ctx, docID, map[string]any{"retrieval_status": StatusUploading}); err != nil {
			return nil, fmt.Errorf("更新文档状态失败: %w", err)
		}
		doc.RetrievalStatus = StatusUploading
	}

	if s.scheduler == nil {
		s.uploadInBackground(ctx, uid, docID)
		return doc, nil
	}
	if err := s.scheduler.ScheduleUpload(ctx, uid, docID); err != nil {
		if previous != StatusUploading {
			s.setStatus(context.WithoutCancel(ctx), docID, map[string]any{"retrieval_status": previous})
		}
		return nil, fmt.Errorf("提交上传任务失败: %w", err)
	}
	return doc, nil
}

func (s *Service) uploadInBackground(ctx context.Context, uid, docID string) {
	ctx = context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if _, err := s.EnsureUploaded(ctx, uid, docID); err != nil {
			logger.With(ctx, s.log).Warn("后台上传文档失败",
				zap.String("uid", uid), zap.String("document_id", docID), zap.Error(err))
		}
	}()
}

// Wait 等待进程内的后台上传结束
func (s *Service) Wait() {
	s.background.Wait()
}

func (s *Service) upload(ctx context.Context, uid, docID string) (*Document, error) {
	doc, err := s.GetDocument(ctx, uid, docID)
	if err != nil {
		return nil, err
	}
	if doc.RetrievalStatus == StatusReady {
		return doc, nil
	}

	release, ok, err := s.lease.Acquire(ctx, docID, s.cfg.UploadLeaseTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUploadInProgress
	}
	defer release()

	log := logger.With(ctx, s.log).With(zap.String("uid", uid), zap.String("document_id", docID))

	profile, err := s.profiles.Fetch(ctx, uid)
	if err != nil {
		return nil, err
	}
	// 上传与状态查询不计费，只需要可用的密钥
	funding, err := s.billing.ResolveKey(credits.KindRetrieve, profile)
	if err != nil {
		return nil, err
	}

	// 已登记过的文档直接继续等待，不重复上传
	if doc.RetrievalStatus != StatusUploading || doc.RetrievalDocID == "" {
		if err := s.setStatus(ctx, docID, map[string]any{"retrieval_status": StatusUploading}); err != nil {
			return nil, fmt.Errorf("更新文档状态失败: %w", err)
		}
		remote, err := s.register(ctx, funding.Key, doc)
		if err != nil {
			s.setStatus(context.WithoutCancel(ctx), docID, map[string]any{"retrieval_status": StatusFailed})
			log.Warn("上传文档到检索服务失败", zap.Error(err))
			return nil, &credits.ProviderError{Kind: credits.KindRetrieve, Provider: credits.ProviderRagie, Err: err}
		}
		doc.RetrievalDocID = remote.ID
		doc.RetrievalStatus = StatusUploading
		if err := s.setStatus(ctx, docID, map[string]any{"retrieval_doc_id": remote.ID}); err != nil {
			return nil, fmt.Errorf("更新文档状态失败: %w", err)
		}
		log.Info("文档已提交到检索服务", zap.String("retrieval_doc_id", remote.ID))
	}

	if err := s.waitReady(ctx, funding.Key, doc.RetrievalDocID); err != nil {
		if errors.Is(err, ErrRetrievalFailed) {
			s.setStatus(context.WithoutCancel(ctx), docID, map[string]any{"retrieval_status": StatusFailed})
		}
		return nil, err
	}

	if err := s.setStatus(ctx, docID, map[string]any{"retrieval_status": StatusReady}); err != nil {
		return nil, fmt.Errorf("更新文档状态失败: %w", err)
	}
	doc.RetrievalStatus = StatusReady
	log.Info("文档可检索")
	return doc, nil
}

func (s *Service) register(ctx context.Context, key string, doc *Document) (*providers.RetrievalDocument, error) {
	f, err := s.files.Open(doc.StoragePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.retriever.Register(ctx, key, doc.UID, doc.Name, f)
}

// waitReady 轮询文档状态直到可检索；超时返回 ErrDocumentNotReady，下次调用继续等待
func (s *Service) waitReady(ctx context.Context, key, remoteID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		remote, err := s.retriever.Status(ctx, key, remoteID)
		switch {
		case err != nil && ctx.Err() == nil:
			return &credits.ProviderError{Kind: credits.KindRetrieve, Provider: credits.ProviderRagie, Err: err}
		case remote.Ready():
			return nil
		case remote.Failed():
			return ErrRetrievalFailed
		}

		select {
		case <-ctx.Done():
			return ErrDocumentNotReady
		case <-ticker.C:
		}
	}
}

// ============ 问答 ============

// Ask 对文档提问：先检索再生成，两次调用分别计费
// 检索失败时不会发起生成；成功后追加到历史并清空进行中的回答
func (s *Service) Ask(ctx context.Context, uid, docID, question string) (*Entry, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	doc, err := s.EnsureUploaded(ctx, uid, docID)
	if err != nil {
		return nil, err
	}

	if !s.beginAnswer(docID, question) {
		return nil, ErrQuestionInProgress
	}
	defer s.clearAnswer(docID)

	log := logger.With(ctx, s.log).With(zap.String("uid", uid), zap.String("document_id", docID))

	profile, err := s.profiles.Fetch(ctx, uid)
	if err != nil {
		return nil, err
	}

	var passages []providers.Passage
	err = s.billing.RunBilled(ctx, credits.KindRetrieve, profile, func(ctx context.Context, key string) error {
		var err error
		passages, err = s.retriever.Retrieve(ctx, key, providers.RetrieveRequest{
			Query:      question,
			Scope:      uid,
			DocumentID: doc.RetrievalDocID,
			TopK:       s.cfg.TopK,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	answer := noContextAnswer
	if len(passages) > 0 {
		texts := make([]string, len(passages))
		for i, p := range passages {
			texts[i] = p.Text
		}
		contextText := budgetPassages(s.tokens, texts, s.cfg.MaxContextTokens)
		userPrompt := fmt.Sprintf("文档片段：\n%s\n\n问题：%s", contextText, question)

		// 检索已扣费，使用最新余额
		profile, err = s.profiles.Fetch(ctx, uid)
		if err != nil {
			return nil, err
		}
		s.setPhase(docID, PhaseGenerating)
		err = s.billing.RunBilled(ctx, credits.KindGenerate, profile, func(ctx context.Context, key string) error {
			var err error
			answer, err = s.generator.GenerateStream(ctx, key, answerSystemPrompt, userPrompt, func(chunk string) {
				s.appendAnswer(docID, chunk)
			})
			return err
		})
		if err != nil {
			return nil, err
		}
	} else {
		log.Info("检索结果为空，跳过生成")
	}

	entry, err := s.appendEntry(ctx, uid, docID, question, answer)
	if err != nil {
		// 两次调用已完成并计费，历史写入失败只能记录日志
		log.Error("保存问答记录失败", zap.Error(err))
		return nil, err
	}
	return entry, nil
}

func (s *Service) appendEntry(ctx context.Context, uid, docID, question, answer string) (*Entry, error) {
	entry := &Entry{
		ID:         uuid.New().String(),
		DocumentID: docID,
		UID:        uid,
		Question:   question,
		Answer:     answer,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxPos *int
		if err := tx.Model(&Entry{}).Where("document_id = ?", docID).Select("MAX(position)").Scan(&maxPos).Error; err != nil {
			return err
		}
		if maxPos != nil {
			entry.Position = *maxPos + 1
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, fmt.Errorf("保存问答记录失败: %w", err)
	}
	return entry, nil
}

// History 文档的问答历史，按提问顺序
func (s *Service) History(ctx context.Context, uid, docID string) ([]Entry, error) {
	if _, err := s.GetDocument(ctx, uid, docID); err != nil {
		return nil, err
	}
	var entries []Entry
	err := s.db.WithContext(ctx).Where("document_id = ?", docID).Order("position ASC").Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("查询问答记录失败: %w", err)
	}
	return entries, nil
}

// DeleteEntry 删除历史中第 index 条记录（从 0 开始），后续记录前移，不可撤销
func (s *Service) DeleteEntry(ctx context.Context, uid, docID string, index int) error {
	if _, err := s.GetDocument(ctx, uid, docID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entries []Entry
		if err := tx.Where("document_id = ?", docID).Order("position ASC").Find(&entries).Error; err != nil {
			return fmt.Errorf("查询问答记录失败: %w", err)
		}
		if index < 0 || index >= len(entries) {
			return ErrEntryNotFound
		}
		if err := tx.Delete(&Entry{}, "id = ?", entries[index].ID).Error; err != nil {
			return fmt.Errorf("删除问答记录失败: %w", err)
		}
		for i := index + 1; i < len(entries); i++ {
			if err := tx.Model(&Entry{}).Where("id = ?", entries[i].ID).Update("position", i-1).Error; err != nil {
				return fmt.Errorf("更新问答记录失败: %w", err)
			}
		}
		return nil
	})
}

// ============ 进行中的回答 ============

// InFlight 返回文档当前正在生成的回答
func (s *Service) InFlight(docID string) (Answer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.inflight[docID]
	if !ok {
		return Answer{}, false
	}
	return *a, true
}

func (s *Service) beginAnswer(docID, question string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[docID]; busy {
		return false
	}
	s.inflight[docID] = &Answer{Question: question, Phase: PhaseRetrieving}
	return true
}

func (s *Service) setPhase(docID string, phase Phase) {
	s.mu.Lock()
	if a, ok := s.inflight[docID]; ok {
		a.Phase = phase
	}
	s.mu.Unlock()
}

func (s *Service) appendAnswer(docID, chunk string) {
	s.mu.Lock()
	if a, ok := s.inflight[docID]; ok {
		a.Partial += chunk
	}
	s.mu.Unlock()
}

func (s *Service) clearAnswer(docID string) {
	s.mu.Lock()
	delete(s.inflight, docID)
	s.mu.Unlock()
}

// ============ 解析与摘要 ============

// Parse 解析文档（计费）
func (s *Service) Parse(ctx context.Context, uid, docID string) ([]providers.Element, error) {
	doc, err := s.GetDocument(ctx, uid, docID)
	if err != nil {
		return nil, err
	}
	profile, err := s.profiles.Fetch(ctx, uid)
	if err != nil {
		return nil, err
	}

	f, err := s.files.Open(doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("读取文档文件失败: %w", err)
	}
	defer f.Close()

	var elements []providers.Element
	err = s.billing.RunBilled(ctx, credits.KindParse, profile, func(ctx context.Context, key string) error {
		var err error
		elements, err = s.parser.Partition(ctx, key, doc.Name, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return elements, nil
}

// Summarize 解析文档后生成摘要并保存
func (s *Service) Summarize(ctx context.Context, uid, docID string) (string, error) {
	elements, err := s.Parse(ctx, uid, docID)
	if err != nil {
		return "", err
	}
	text := providers.JoinText(elements)
	if text == "" {
		return "", fmt.Errorf("文档没有可摘要的文本内容")
	}
	text = s.tokens.Truncate(text, s.cfg.MaxContextTokens)

	profile, err := s.profiles.Fetch(ctx, uid)
	if err != nil {
		return "", err
	}
	var summary string
	err = s.billing.RunBilled(ctx, credits.KindGenerate, profile, func(ctx context.Context, key string) error {
		var err error
		summary, err = s.generator.Generate(ctx, key, summarySystemPrompt, text)
		return err
	})
	if err != nil {
		return "", err
	}

	if err := s.setStatus(ctx, docID, map[string]any{"summary": summary}); err != nil {
		logger.With(ctx, s.log).Error("保存文档摘要失败", zap.String("document_id", docID), zap.Error(err))
		return summary, nil
	}
	return summary, nil
}

// CountByStatus 按检索状态统计文档数
func (s *Service) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		RetrievalStatus string
		Count           int64
	}
	err := s.db.WithContext(ctx).Model(&Document{}).
		Select("retrieval_status, COUNT(*) AS count").
		Group("retrieval_status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("统计文档失败: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.RetrievalStatus] = r.Count
	}
	return counts, nil
}
