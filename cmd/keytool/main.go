// Command keytool creates operator credentials: an API key with the bcrypt
// hash to put in AUTH_API_KEY_HASH, or a signed access token for testing.
//
//	keytool apikey
//	keytool token -secret $AUTH_JWT_SECRET -user u-1 -role admin
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"medicine-dispatch/internal/models"
	"medicine-dispatch/pkg/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "apikey":
		err = apiKey(os.Args[2:])
	case "token":
		err = token(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logrus.WithError(err).Fatal(os.Args[1] + " failed")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: keytool apikey [-bytes n] | keytool token -secret s -user id [-role r] [-email e] [-ttl d]")
}

func apiKey(args []string) error {
	fs := flag.NewFlagSet("apikey", flag.ExitOnError)
	size := fs.Int("bytes", 32, "random bytes in the key")
	_ = fs.Parse(args)

	key, err := utils.GenerateSecureToken(*size)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("bcrypt: %w", err)
	}
	fmt.Printf("api key:           %s\nAUTH_API_KEY_HASH=%s\n", key, hash)
	return nil
}

func token(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	secret := fs.String("secret", os.Getenv("AUTH_JWT_SECRET"), "signing secret")
	userID := fs.String("user", "", "user id")
	email := fs.String("email", "", "user email")
	role := fs.String("role", models.RoleCustomer, "customer or admin")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	_ = fs.Parse(args)

	if *secret == "" || *userID == "" {
		return fmt.Errorf("-secret and -user are required")
	}
	if *role != models.RoleCustomer && *role != models.RoleAdmin {
		return fmt.Errorf("unknown role %q", *role)
	}

	now := time.Now()
	claims := &models.JwtCustomClaims{
		UserID: *userID,
		Email:  *email,
		Role:   *role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   *userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(*secret))
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	fmt.Println(signed)
	return nil
}
