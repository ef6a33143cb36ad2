package ratelimit

import "github.com/redis/go-redis/v9"

// blockMember is the sorted-set member holding the unblock instant of an
// exhausted counter. Its score is epoch ms, or -1 when the block never lapses.
const blockMember = "!block"

// reserveLua evaluates one counter and optionally takes a reservation.
// KEYS[1] = counter key
// ARGV[1] = now (epoch ms)
// ARGV[2] = window (ms, 0 = never slides)
// ARGV[3] = limit
// ARGV[4] = block (ms, 0 = never expires)
// ARGV[5] = token ("" = dry run)
//
// Returns {usage, limit, token or "", reset ms or -1}.
// Error string: "duplicate_token".
var reserveLua = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local block = tonumber(ARGV[4])
local token = ARGV[5]
local marker = '!block'

local function ms(n)
  return string.format('%d', n)
end

local function reset_until(until_ms)
  if until_ms < 0 then
    return -1
  end
  return until_ms - now
end

local blocked = redis.call('ZSCORE', key, marker)
if blocked then
  blocked = tonumber(blocked)
  if blocked >= 0 and blocked <= now then
    redis.call('DEL', key)
  else
    return {redis.call('ZCARD', key) - 1, limit, '', reset_until(blocked)}
  end
end

if window > 0 then
  redis.call('ZREMRANGEBYSCORE', key, '-inf', ms(now - window))
end

local usage = redis.call('ZCARD', key)
if usage >= limit then
  -- only reachable when the limit was lowered under a live counter
  local ttl = redis.call('PTTL', key)
  if block == 0 or ttl < 0 then
    ttl = -1
  end
  return {usage, limit, '', ttl}
end

local reset = 0
if block == 0 then
  reset = -1
end

if token == '' then
  return {usage, limit, '', reset}
end

if redis.call('ZADD', key, 'NX', ARGV[1], token) == 0 then
  return redis.error_reply('duplicate_token')
end
usage = usage + 1

if block > 0 then
  redis.call('PEXPIRE', key, ARGV[4])
else
  redis.call('PERSIST', key)
end

if usage >= limit then
  local until_ms = -1
  if block > 0 then
    until_ms = now + block
  end
  redis.call('ZADD', key, ms(until_ms), marker)
  reset = reset_until(until_ms)
end

return {usage, limit, token, reset}
`)

// cancelLua removes one reservation and lifts the block when the counter
// drops back under its limit.
// KEYS[1] = counter key
// ARGV[1] = token
// ARGV[2] = limit
//
// Returns 1 when the token existed, 0 otherwise.
var cancelLua = redis.NewScript(`
local removed = redis.call('ZREM', KEYS[1], ARGV[1])
if removed == 1 and redis.call('ZSCORE', KEYS[1], '!block') then
  if redis.call('ZCARD', KEYS[1]) - 1 < tonumber(ARGV[2]) then
    redis.call('ZREM', KEYS[1], '!block')
  end
end
return removed
`)
