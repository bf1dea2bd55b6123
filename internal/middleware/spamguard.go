package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SpamGuard 限制同一来源两次提交之间的最小间隔
type SpamGuard struct {
	interval time.Duration
	posts    map[string]time.Time
	mutex    sync.Mutex
	now      func() time.Time
}

func NewSpamGuard(interval time.Duration) *SpamGuard {
	return &SpamGuard{
		interval: interval,
		posts:    make(map[string]time.Time),
		now:      time.Now,
	}
}

// CanPost reports whether id may submit now and, if so, blocks it for the next interval.
func (sg *SpamGuard) CanPost(id string) bool {
	if sg.interval <= 0 {
		return true
	}

	sg.mutex.Lock()
	defer sg.mutex.Unlock()

	now := sg.now()
	if expires, found := sg.posts[id]; found && expires.After(now) {
		// Blocked
		return false
	}
	sg.posts[id] = now.Add(sg.interval)
	sg.clean(now)
	return true
}

func (sg *SpamGuard) clean(now time.Time) {
	for key, expires := range sg.posts {
		if !expires.After(now) {
			delete(sg.posts, key)
		}
	}
}

// Limit rejects requests from a client IP that posted less than the interval ago.
func (sg *SpamGuard) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !sg.CanPost(ip) {
			logrus.WithField("ip", ip).Info("comment submission rate limited")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Please wait before posting again"})
			return
		}
		c.Next()
	}
}
