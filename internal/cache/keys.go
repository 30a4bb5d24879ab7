package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func CampaignCountsKey(campaignID uuid.UUID) string {
	return fmt.Sprintf("campaign:counts:%s", campaignID)
}
