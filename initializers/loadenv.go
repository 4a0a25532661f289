package initializers

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnv reads .env when one exists. Deployed environments configure
// through real environment variables and carry no .env file, so a
// missing file is not an error.
func LoadEnv() error {
	if _, err := os.Stat(".env"); os.IsNotExist(err) {
		log.Println("No .env file; using process environment")
		return nil
	}
	if err := godotenv.Load(); err != nil {
		log.Printf("Error loading .env: %v", err)
		return err
	}
	log.Println("Env loaded successfully")
	return nil
}
