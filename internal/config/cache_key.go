package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamDefinitionKey returns the cache key for an exam's full definition, answer key included
func (r *CacheKeyStruct) ExamDefinitionKey(examID string) string {
	return fmt.Sprintf("exam:%s:definition", examID)
}

// AttemptReportedKey marks a session whose attempt report was already applied
func (r *CacheKeyStruct) AttemptReportedKey(sessionID string) string {
	return fmt.Sprintf("attempt:%s:reported", sessionID)
}

// UserXPKey returns the counter holding a user's accumulated experience points
func (r *CacheKeyStruct) UserXPKey(userID string) string {
	return fmt.Sprintf("user:%s:xp", userID)
}

// SessionAuthAttemptsKey counts access code submissions for one session
func (r *CacheKeyStruct) SessionAuthAttemptsKey(sessionID string) string {
	return fmt.Sprintf("session:%s:auth_attempts", sessionID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
