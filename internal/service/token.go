package service

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/apperrors"
	"github.com/sefisk/10minutemail/internal/config"
	"github.com/sefisk/10minutemail/internal/crypto"
	"github.com/sefisk/10minutemail/internal/domain"
	"github.com/sefisk/10minutemail/internal/storage"
)

// TokenService 访问令牌生命周期。
//
// 线缆格式是 HS256 签名的 JWT（sub=邮箱 ID，jti=随机 UUID），
// 但数据库里只存整个序列化串的 SHA-256 哈希，且请求路径的
// 权威校验永远是哈希查库：状态与过期都以令牌行为准，签名只是
// 纵深防御。原始令牌只在签发或轮换时返回一次。
type TokenService struct {
	store storage.Store
	cfg   config.TokenConfig
	log   *zap.Logger
}

// NewTokenService 创建令牌服务。
func NewTokenService(store storage.Store, cfg config.TokenConfig, log *zap.Logger) *TokenService {
	return &TokenService{store: store, cfg: cfg, log: log}
}

// clampTTL 收敛请求的有效期到 [默认, 上限]。
func (s *TokenService) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.cfg.DefaultTTL
	}
	if ttl > s.cfg.MaxTTL {
		return s.cfg.MaxTTL
	}
	return ttl
}

// mint 生成签名令牌与对应的数据库行。
func (s *TokenService) mint(inboxID string, ttl time.Duration, issuerIP string) (string, *domain.Token, error) {
	now := time.Now().UTC()
	expires := now.Add(s.clampTTL(ttl))

	claims := jwt.RegisteredClaims{
		Subject:   inboxID,
		ID:        uuid.NewString(),
		Issuer:    "mailgate",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", nil, err
	}

	return raw, &domain.Token{
		ID:        uuid.NewString(),
		InboxID:   inboxID,
		TokenHash: crypto.HashToken(raw),
		Status:    domain.TokenStatusActive,
		ExpiresAt: expires,
		IssuerIP:  issuerIP,
		CreatedAt: now,
	}, nil
}

// Issue 为邮箱签发新令牌，返回只此一次可见的原始令牌。
func (s *TokenService) Issue(inboxID string, ttl time.Duration, issuerIP string) (string, *domain.Token, error) {
	raw, token, err := s.mint(inboxID, ttl, issuerIP)
	if err != nil {
		return "", nil, err
	}
	if err := s.store.CreateToken(token); err != nil {
		return "", nil, err
	}
	return raw, token, nil
}

// Rotate 吊销全部活动令牌并签发一张新令牌（单事务）。
// 轮换后每个邮箱最多保留一张活动令牌。
func (s *TokenService) Rotate(inboxID string, ttl time.Duration, issuerIP string) (string, *domain.Token, error) {
	raw, token, err := s.mint(inboxID, ttl, issuerIP)
	if err != nil {
		return "", nil, err
	}
	if err := s.store.RotateToken(inboxID, token, time.Now().UTC()); err != nil {
		return "", nil, err
	}
	return raw, token, nil
}

// Authenticate 执行请求路径的令牌状态机（状态与过期以令牌行为准）。
//
// 依次拒绝：哈希未命中、状态非 active、已过期、所属邮箱非活动。
// 通过后返回令牌与邮箱。
func (s *TokenService) Authenticate(raw string) (*domain.Token, *domain.Inbox, error) {
	token, inbox, err := s.store.GetTokenByHash(crypto.HashToken(raw))
	if err != nil {
		return nil, nil, apperrors.Authenticationf("invalid token")
	}

	if token.Status != domain.TokenStatusActive {
		return nil, nil, apperrors.Authenticationf("token revoked")
	}
	if token.Expired(time.Now().UTC()) {
		return nil, nil, apperrors.Authenticationf("token expired")
	}
	if inbox == nil || !inbox.Active() {
		return nil, nil, apperrors.Authorizationf("inbox inactive")
	}

	return token, inbox, nil
}

// Sweep 把过期的活动令牌置为 expired。后台周期任务调用。
func (s *TokenService) Sweep() (int64, error) {
	return s.store.SweepExpiredTokens(time.Now().UTC())
}
