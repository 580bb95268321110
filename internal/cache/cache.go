package cache

// Well-known presence cache keys.
const (
	KeySharing = "isLocationSharing"
	KeyMembers = "familyMembers"
	KeyUserID  = "userId"
)

// UserLocationKey is the per-user key for the cached self-location.
func UserLocationKey(uid string) string {
	return "user_location_" + uid
}
