package klaviyo

var (
	BuildEventPayload   = buildEventPayload
	BuildBulkJobPayload = buildBulkJobPayload
	NewLinearBackOff    = newLinearBackOff
)
