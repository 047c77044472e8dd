package enums

import "slices"

// PushPlatform identifies the device family a push token belongs to.
type PushPlatform string

const (
	PushPlatformIOS     PushPlatform = "ios"
	PushPlatformAndroid PushPlatform = "android"
	PushPlatformWeb     PushPlatform = "web"
)

var validPushPlatforms = []PushPlatform{
	PushPlatformIOS,
	PushPlatformAndroid,
	PushPlatformWeb,
}

// String implements fmt.Stringer.
func (p PushPlatform) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PushPlatform.
func (p PushPlatform) IsValid() bool {
	return slices.Contains(validPushPlatforms, p)
}

// ParsePushPlatform converts raw input into a PushPlatform.
func ParsePushPlatform(value string) (PushPlatform, error) {
	return parse("push platform", value, validPushPlatforms)
}
