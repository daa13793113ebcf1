package protocol

import (
	"regexp"
)

// TargetKind is the routing class of an OutboundIntent.
type TargetKind string

const (
	TargetC2C     TargetKind = "c2c"
	TargetGroup   TargetKind = "group"
	TargetChannel TargetKind = "channel"
)

// Target is the parsed form of an OutboundIntent's target string, e.g.
// "qqbot:c2c:<openid>", "group:<gOpenid>", "channel:<cid>", or a bare
// 32-hex openid (which defaults to C2C per spec.md §9's codified
// ambiguity).
type Target struct {
	Kind TargetKind
	ID   string
}

var hex32 = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)
var prefixed = regexp.MustCompile(`^(?:qqbot:)?(c2c|group|channel):(.+)$`)

// ParseTarget parses a target string per spec.md §3's OutboundIntent
// grammar. Bare 32-hex openids default to C2C.
func ParseTarget(s string) (Target, bool) {
	if m := prefixed.FindStringSubmatch(s); m != nil {
		return Target{Kind: TargetKind(m[1]), ID: m[2]}, true
	}
	if hex32.MatchString(s) {
		return Target{Kind: TargetC2C, ID: s}, true
	}
	return Target{}, false
}

// ReplyTargetFor derives the OutboundIntent target string for replying
// to an inbound event. KindGuild and KindDM both map to TargetChannel
// on ChannelID, since both event kinds carry a ChannelID and no other
// target kind fits a guild-channel or bot-DM reply; c2c/group keep
// their direct 1:1 mapping on SenderID/GroupOpenid. ok is false for a
// kind with no reachable target.
func ReplyTargetFor(ev InboundEvent) (target string, ok bool) {
	switch ev.Kind {
	case KindC2C:
		return FormatTarget(Target{Kind: TargetC2C, ID: ev.SenderID}), true
	case KindGroup:
		return FormatTarget(Target{Kind: TargetGroup, ID: ev.GroupOpenid}), true
	case KindGuild, KindDM:
		return FormatTarget(Target{Kind: TargetChannel, ID: ev.ChannelID}), true
	default:
		return "", false
	}
}

// FormatTarget is the inverse of ParseTarget. Round-trips for all three
// kinds; bare-openid C2C targets are reformatted with an explicit prefix,
// so FormatTarget(ParseTarget(x)) need not equal x byte-for-byte, but
// ParseTarget(FormatTarget(t)) == t for every Target value t.
func FormatTarget(t Target) string {
	return string(t.Kind) + ":" + t.ID
}
