package services

import (
	"fmt"
	"math/rand"
	"time"
)

// receiptNumber is the printed receipt id, RCP-<unix seconds><3 random digits>.
func receiptNumber(now time.Time) string {
	return fmt.Sprintf("RCP-%d%03d", now.Unix(), rand.Intn(1000))
}
