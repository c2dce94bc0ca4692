package cache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/domain"
)

type listerFunc func(activeOnly bool) ([]domain.MailDomain, error)

func (f listerFunc) ListDomains(activeOnly bool) ([]domain.MailDomain, error) {
	return f(activeOnly)
}

func TestDomainCacheRefreshAndLookup(t *testing.T) {
	c := NewDomainCache(listerFunc(func(activeOnly bool) ([]domain.MailDomain, error) {
		assert.True(t, activeOnly)
		return []domain.MailDomain{
			{ID: "d-1", Domain: "Temp.Example", IsLocal: true, IsActive: true},
		}, nil
	}), zap.NewNop())

	// 刷新前为空
	assert.False(t, c.Contains("temp.example"))

	require.NoError(t, c.Refresh())

	// 域名查找不区分大小写
	assert.True(t, c.Contains("temp.example"))
	assert.True(t, c.Contains("TEMP.EXAMPLE"))
	assert.False(t, c.Contains("other.example"))

	d, ok := c.Lookup("temp.example")
	require.True(t, ok)
	assert.Equal(t, "d-1", d.ID)
}

func TestDomainCacheRefreshReplacesSnapshot(t *testing.T) {
	domains := []domain.MailDomain{{ID: "d-1", Domain: "a.example", IsActive: true}}
	c := NewDomainCache(listerFunc(func(bool) ([]domain.MailDomain, error) {
		return domains, nil
	}), zap.NewNop())

	require.NoError(t, c.Refresh())
	assert.True(t, c.Contains("a.example"))

	// 整体替换：旧域名消失，新域名出现
	domains = []domain.MailDomain{{ID: "d-2", Domain: "b.example", IsActive: true}}
	require.NoError(t, c.Refresh())
	assert.False(t, c.Contains("a.example"))
	assert.True(t, c.Contains("b.example"))
}

func TestDomainCacheRefreshFailureKeepsOldSnapshot(t *testing.T) {
	fail := false
	c := NewDomainCache(listerFunc(func(bool) ([]domain.MailDomain, error) {
		if fail {
			return nil, errors.New("db down")
		}
		return []domain.MailDomain{{ID: "d-1", Domain: "a.example", IsActive: true}}, nil
	}), zap.NewNop())

	require.NoError(t, c.Refresh())
	fail = true
	require.Error(t, c.Refresh())
	// 失败不破坏现有快照
	assert.True(t, c.Contains("a.example"))
}
