package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// TestPaperKey returns the cache key for a test's learner-facing payload
func (r *CacheKeyStruct) TestPaperKey(testID string) string {
	return fmt.Sprintf("test:%s:paper", testID)
}

// TestAnswerKey returns the cache key for a test's answer key hash
func (r *CacheKeyStruct) TestAnswerKey(testID string) string {
	return fmt.Sprintf("test:%s:key", testID)
}

// UserActiveSessionKey maps a learner and test to the live session ID
func (r *CacheKeyStruct) UserActiveSessionKey(userID int, testID string) string {
	return fmt.Sprintf("user:%d:test:%s:active_session", userID, testID)
}

// SessionEventsChannel returns the Redis PubSub channel for a session's events
func (r *CacheKeyStruct) SessionEventsChannel(sessionID string) string {
	return fmt.Sprintf("session:%s:events", sessionID)
}

// VideoProgressKey returns the storage key for a learner's video progress
func (r *CacheKeyStruct) VideoProgressKey(userID int) string {
	return fmt.Sprintf("progress:%d:videos", userID)
}

// NotesKey returns the storage key for a learner's lesson notes
func (r *CacheKeyStruct) NotesKey(userID int) string {
	return fmt.Sprintf("progress:%d:notes", userID)
}

// AchievementsKey returns the storage key for a learner's unlocked achievements
func (r *CacheKeyStruct) AchievementsKey(userID int) string {
	return fmt.Sprintf("progress:%d:achievements", userID)
}

// CompletedTestsKey returns the storage key for the tests a learner has finished
func (r *CacheKeyStruct) CompletedTestsKey(userID int) string {
	return fmt.Sprintf("progress:%d:completed_tests", userID)
}

var CacheKey = NewCacheKeyStruct()
