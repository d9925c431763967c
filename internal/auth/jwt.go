package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// SubjectKey is the gin context key holding the authenticated subject.
const SubjectKey = "auth_subject"

// TokenIssuer issues and validates HMAC-signed bearer tokens for the
// management API.
type TokenIssuer struct {
	secretKey []byte
	tokenTTL  time.Duration
}

func NewTokenIssuer(secretKey string, tokenTTL time.Duration) (*TokenIssuer, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("auth secret key is empty")
	}
	if tokenTTL <= 0 {
		tokenTTL = 30 * time.Minute
	}
	return &TokenIssuer{secretKey: []byte(secretKey), tokenTTL: tokenTTL}, nil
}

// Mint creates a signed token for subject, expiring after the configured TTL.
func (i *TokenIssuer) Mint(subject string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(i.tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secretKey)
}

// ValidateToken parses and verifies a token, returning its subject.
func (i *TokenIssuer) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secretKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %v", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("missing or invalid sub claim")
	}
	return sub, nil
}

// Middleware returns a gin handler that rejects requests without a valid
// bearer token and stores the subject on the context.
func (i *TokenIssuer) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": "missing authorization header"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			c.AbortWithStatusJSON(401, gin.H{"error": "invalid authorization header format"})
			return
		}
		subject, err := i.ValidateToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(401, gin.H{"error": fmt.Sprintf("invalid token: %v", err)})
			return
		}
		c.Set(SubjectKey, subject)
		c.Next()
	}
}
