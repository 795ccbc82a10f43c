package dotenv

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Load reads .env from the working directory (or the file named by ENV_FILE)
// into the process environment. A missing file is not an error.
func Load() error {
	path := strings.TrimSpace(os.Getenv("ENV_FILE"))
	var err error
	if path != "" {
		err = godotenv.Load(path)
	} else {
		err = godotenv.Load()
	}
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}
