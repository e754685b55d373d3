package handler

import "fmt"

// deviceDeniedMessage mirrors router.py's bilingual 403 body exactly.
func deviceDeniedMessage(maxDevices int) string {
	return fmt.Sprintf(
		"Maximum number of devices (%d) reached. Please logout from another device first.\n"+
			"已达到最大设备数 (%d)。请先从另一台设备注销。",
		maxDevices, maxDevices,
	)
}

// quotaDeniedMessage mirrors router.py's bilingual 429 body exactly.
func quotaDeniedMessage(rateLimit int, waitSeconds int64) string {
	return fmt.Sprintf(
		"Usage limit exceeded. Current limit is %d tokens per 3 hours. Please wait %d seconds. "+
			"您已触发使用频率限制，当前限制为%dtokens/3小时，请等待%d秒后重试。",
		rateLimit, waitSeconds, rateLimit, waitSeconds,
	)
}
