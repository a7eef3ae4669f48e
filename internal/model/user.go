package model

import "time"

// Role separates learners from console administrators.
type Role string

const (
	RoleLearner Role = "LEARNER"
	RoleAdmin   Role = "ADMIN"
)

// User is an account that can sign in.
type User struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// LoginRequest is the payload for signing in.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}
