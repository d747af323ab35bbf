package cache

import "github.com/redis/go-redis/v9"

// Script results: 1 applied, 0 balance too low, -1 key missing.
const (
	scriptApplied      = 1
	scriptInsufficient = 0
	scriptMissing      = -1
)

// Lua scripts for atomic balance operations
// These prevent race conditions by doing read-modify-write atomically.
// Money is stored as %.4f strings so the Lua number arithmetic stays
// exact at the scales the engine works with.

// freezeCashScript deducts ARGV[1] from available_cash when the balance
// suffices.
var freezeCashScript = redis.NewScript(`
local cash = tonumber(redis.call('HGET', KEYS[1], 'available_cash'))
if cash == nil then
    return -1
end
local need = tonumber(ARGV[1])
if cash < need then
    return 0
end
redis.call('HSET', KEYS[1], 'available_cash', string.format('%.4f', cash - need))
return 1
`)

// addAvailableCashScript adds ARGV[1] (possibly negative) to
// available_cash unconditionally, so settlement deltas commute with
// concurrent freezes.
var addAvailableCashScript = redis.NewScript(`
local cash = tonumber(redis.call('HGET', KEYS[1], 'available_cash'))
if cash == nil then
    return -1
end
redis.call('HSET', KEYS[1], 'available_cash', string.format('%.4f', cash + tonumber(ARGV[1])))
return 1
`)

// freezeVolumeScript deducts ARGV[1] shares from available_volume when
// enough are sellable.
var freezeVolumeScript = redis.NewScript(`
local avail = tonumber(redis.call('HGET', KEYS[1], 'available_volume'))
if avail == nil then
    return -1
end
local need = tonumber(ARGV[1])
if avail < need then
    return 0
end
redis.call('HSET', KEYS[1], 'available_volume', string.format('%d', avail - need))
return 1
`)

// addAvailableVolumeScript adds ARGV[1] (possibly negative) shares to
// available_volume unconditionally.
var addAvailableVolumeScript = redis.NewScript(`
local avail = tonumber(redis.call('HGET', KEYS[1], 'available_volume'))
if avail == nil then
    return -1
end
redis.call('HSET', KEYS[1], 'available_volume', string.format('%d', avail + tonumber(ARGV[1])))
return 1
`)
