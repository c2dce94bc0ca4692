package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/sefisk/10minutemail/internal/apperrors"
)

const (
	ivSize  = 12 // 96-bit GCM IV
	tagSize = 16 // 128-bit auth tag
)

// Cipher 进程级凭据加密服务。
//
// 密钥在启动时加载一次并注入各组件，密钥本身绝不写日志。
type Cipher struct {
	key []byte
}

// NewCipher 从配置的密钥字符串构造 Cipher。
//
// 64 位十六进制字符串直接解码为 32 字节密钥；其余输入经 SHA-256
// 归约为 32 字节。
func NewCipher(keyString string) (*Cipher, error) {
	if keyString == "" {
		return nil, apperrors.New(apperrors.KindEncryption, "encryption key is required")
	}

	if len(keyString) == 64 {
		if key, err := hex.DecodeString(keyString); err == nil {
			return &Cipher{key: key}, nil
		}
	}

	sum := sha256.Sum256([]byte(keyString))
	return &Cipher{key: sum[:]}, nil
}

// Encrypt 加密明文，返回 base64(IV ‖ tag ‖ ciphertext)。
// 每次调用生成新的随机 IV。
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindEncryption, "init cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindEncryption, "init gcm", err)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", apperrors.Wrap(apperrors.KindEncryption, "generate iv", err)
	}

	// Seal 输出 ciphertext ‖ tag，对外格式是 IV ‖ tag ‖ ciphertext。
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, ivSize+tagSize+len(ct))
	blob = append(blob, iv...)
	blob = append(blob, tag...)
	blob = append(blob, ct...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt 解密 Encrypt 生成的数据。
// 短于 IV+tag+1 的数据直接拒绝；认证失败原样上抛。
func (c *Cipher) Decrypt(encoded string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindEncryption, "decode blob", err)
	}
	if len(blob) < ivSize+tagSize+1 {
		return "", apperrors.New(apperrors.KindEncryption, fmt.Sprintf("blob too short: %d bytes", len(blob)))
	}

	iv := blob[:ivSize]
	tag := blob[ivSize : ivSize+tagSize]
	ct := blob[ivSize+tagSize:]

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindEncryption, "init cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindEncryption, "init gcm", err)
	}

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindEncryption, "authentication failed", err)
	}
	return string(plaintext), nil
}

// HashToken 返回原始令牌的 SHA-256 十六进制摘要（64 字符）。
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
