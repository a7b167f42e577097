package queue

import "github.com/redis/go-redis/v9"

// Waiting score is priority*1e13 + readyAt(ms); it stays below 2^53 for
// priorities up to 100, so Lua doubles keep millisecond precision.
// string.format("%.0f") avoids Lua's 14-digit number formatting.

const luaHelpers = `
local function jobkey(base, id)
  return base .. ":job:" .. id
end

local function waitscore(prio, readyAt)
  return string.format("%.0f", prio * 1e13 + readyAt)
end

local function drop(setKey, base, id)
  redis.call("DEL", jobkey(base, id))
  redis.call("ZREM", setKey, id)
end

local function trim(setKey, base, now, maxAge, maxCount)
  if maxAge > 0 then
    local old = redis.call("ZRANGEBYSCORE", setKey, "-inf", "(" .. string.format("%.0f", now - maxAge))
    for _, id in ipairs(old) do
      drop(setKey, base, id)
    end
  end
  if maxCount >= 0 then
    local n = redis.call("ZCARD", setKey)
    if n > maxCount then
      local extra = redis.call("ZRANGE", setKey, 0, n - maxCount - 1)
      for _, id in ipairs(extra) do
        drop(setKey, base, id)
      end
    end
  end
end

local function signal(notifyKey)
  redis.call("LPUSH", notifyKey, "1")
  redis.call("LTRIM", notifyKey, 0, 0)
end

local function holds(activeKey, jk, id, worker)
  return redis.call("HGET", jk, "worker_id") == worker and redis.call("ZSCORE", activeKey, id)
end
`

// KEYS: waiting, delayed, notify
// ARGV: base, id, readyAt, now, waiting score, field/value pairs...
var addScript = redis.NewScript(luaHelpers + `
local jk = jobkey(ARGV[1], ARGV[2])
if redis.call("EXISTS", jk) == 1 then
  return 0
end
redis.call("HSET", jk, unpack(ARGV, 6))
if tonumber(ARGV[3]) > tonumber(ARGV[4]) then
  redis.call("HSET", jk, "state", "delayed")
  redis.call("ZADD", KEYS[2], ARGV[3], ARGV[2])
else
  redis.call("HSET", jk, "state", "waiting")
  redis.call("ZADD", KEYS[1], ARGV[5], ARGV[2])
  signal(KEYS[3])
end
return 1
`)

// KEYS: waiting, delayed, active, paused
// ARGV: base, now, lease expiry, worker id
var leaseScript = redis.NewScript(luaHelpers + `
local now = tonumber(ARGV[2])
local due = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[2], "LIMIT", 0, 1000)
for _, id in ipairs(due) do
  local jk = jobkey(ARGV[1], id)
  local prio = tonumber(redis.call("HGET", jk, "priority") or "0")
  local readyAt = tonumber(redis.call("HGET", jk, "scheduled_at") or ARGV[2])
  redis.call("ZREM", KEYS[2], id)
  redis.call("ZADD", KEYS[1], waitscore(prio, readyAt), id)
  redis.call("HSET", jk, "state", "waiting")
end
if redis.call("EXISTS", KEYS[4]) == 1 then
  return false
end
local ids = redis.call("ZRANGE", KEYS[1], 0, 0)
if #ids == 0 then
  return false
end
local id = ids[1]
local jk = jobkey(ARGV[1], id)
redis.call("ZREM", KEYS[1], id)
redis.call("ZADD", KEYS[3], ARGV[3], id)
redis.call("HSET", jk, "state", "active", "worker_id", ARGV[4], "lease_expires_at", ARGV[3], "processed_at", ARGV[2])
return redis.call("HGETALL", jk)
`)

// KEYS: active, completed
// ARGV: base, id, worker, now, keep age ms, keep count (-1 unbounded)
var completeScript = redis.NewScript(luaHelpers + `
local jk = jobkey(ARGV[1], ARGV[2])
if not holds(KEYS[1], jk, ARGV[2], ARGV[3]) then
  return 0
end
redis.call("ZREM", KEYS[1], ARGV[2])
redis.call("HINCRBY", jk, "attempts", 1)
redis.call("HSET", jk, "state", "completed", "finished_at", ARGV[4], "progress", "100")
redis.call("HDEL", jk, "worker_id", "lease_expires_at")
redis.call("ZADD", KEYS[2], ARGV[4], ARGV[2])
trim(KEYS[2], ARGV[1], tonumber(ARGV[4]), tonumber(ARGV[5]), tonumber(ARGV[6]))
return 1
`)

// KEYS: active, delayed, failed
// ARGV: base, id, worker, now, error, permanent, retry delay ms, keep age ms, keep count
var failScript = redis.NewScript(luaHelpers + `
local jk = jobkey(ARGV[1], ARGV[2])
if not holds(KEYS[1], jk, ARGV[2], ARGV[3]) then
  return "lost"
end
local attempts = redis.call("HINCRBY", jk, "attempts", 1)
local maxAttempts = tonumber(redis.call("HGET", jk, "max_attempts") or "1")
redis.call("ZREM", KEYS[1], ARGV[2])
redis.call("HDEL", jk, "worker_id", "lease_expires_at")
redis.call("HSET", jk, "last_error", ARGV[5], "permanent", ARGV[6])
if attempts >= maxAttempts then
  redis.call("HSET", jk, "state", "failed", "finished_at", ARGV[4])
  redis.call("ZADD", KEYS[3], ARGV[4], ARGV[2])
  trim(KEYS[3], ARGV[1], tonumber(ARGV[4]), tonumber(ARGV[8]), tonumber(ARGV[9]))
  return "failed"
end
local readyAt = string.format("%.0f", tonumber(ARGV[4]) + tonumber(ARGV[7]))
redis.call("HSET", jk, "state", "delayed", "scheduled_at", readyAt)
redis.call("ZADD", KEYS[2], readyAt, ARGV[2])
return "delayed"
`)

// KEYS: active
// ARGV: base, id, worker, lease expiry
var extendScript = redis.NewScript(luaHelpers + `
local jk = jobkey(ARGV[1], ARGV[2])
if not holds(KEYS[1], jk, ARGV[2], ARGV[3]) then
  return 0
end
redis.call("ZADD", KEYS[1], "XX", ARGV[4], ARGV[2])
redis.call("HSET", jk, "lease_expires_at", ARGV[4])
return 1
`)

// KEYS: active
// ARGV: base, id, worker, progress
var progressScript = redis.NewScript(luaHelpers + `
local jk = jobkey(ARGV[1], ARGV[2])
if not holds(KEYS[1], jk, ARGV[2], ARGV[3]) then
  return 0
end
redis.call("HSET", jk, "progress", ARGV[4])
return 1
`)

// KEYS: active, waiting, failed, notify
// ARGV: base, now, keep age ms, keep count
// Returns a flat list of id, state, attempts triples.
var stalledScript = redis.NewScript(luaHelpers + `
local now = tonumber(ARGV[2])
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[2], "LIMIT", 0, 1000)
local out = {}
local requeued = false
local failed = false
for _, id in ipairs(ids) do
  redis.call("ZREM", KEYS[1], id)
  local jk = jobkey(ARGV[1], id)
  if redis.call("EXISTS", jk) == 1 then
    local attempts = redis.call("HINCRBY", jk, "attempts", 1)
    local maxAttempts = tonumber(redis.call("HGET", jk, "max_attempts") or "1")
    redis.call("HDEL", jk, "worker_id", "lease_expires_at")
    local state
    if attempts >= maxAttempts then
      state = "failed"
      redis.call("HSET", jk, "state", "failed", "finished_at", ARGV[2], "last_error", "job stalled: lease expired")
      redis.call("ZADD", KEYS[3], ARGV[2], id)
      failed = true
    else
      state = "waiting"
      local prio = tonumber(redis.call("HGET", jk, "priority") or "0")
      redis.call("HSET", jk, "state", "waiting", "scheduled_at", ARGV[2])
      redis.call("ZADD", KEYS[2], waitscore(prio, now), id)
      requeued = true
    end
    table.insert(out, id)
    table.insert(out, state)
    table.insert(out, tostring(attempts))
  end
end
if failed then
  trim(KEYS[3], ARGV[1], now, tonumber(ARGV[3]), tonumber(ARGV[4]))
end
if requeued then
  signal(KEYS[4])
end
return out
`)

// KEYS: failed, waiting, notify
// ARGV: base, id, now
var retryScript = redis.NewScript(luaHelpers + `
local jk = jobkey(ARGV[1], ARGV[2])
if redis.call("EXISTS", jk) == 0 then
  return -1
end
if not redis.call("ZSCORE", KEYS[1], ARGV[2]) then
  return 0
end
local prio = tonumber(redis.call("HGET", jk, "priority") or "0")
redis.call("ZREM", KEYS[1], ARGV[2])
redis.call("HSET", jk, "state", "waiting", "attempts", "0", "progress", "0", "permanent", "0", "scheduled_at", ARGV[3])
redis.call("HDEL", jk, "finished_at", "processed_at")
redis.call("ZADD", KEYS[2], waitscore(prio, tonumber(ARGV[3])), ARGV[2])
signal(KEYS[3])
return 1
`)

// KEYS: waiting, delayed, active, completed, failed
// ARGV: base, id
var removeScript = redis.NewScript(luaHelpers + `
local jk = jobkey(ARGV[1], ARGV[2])
if redis.call("EXISTS", jk) == 0 then
  return 0
end
for _, key in ipairs(KEYS) do
  redis.call("ZREM", key, ARGV[2])
end
redis.call("DEL", jk)
return 1
`)

// KEYS: finished set
// ARGV: base, cutoff ms, limit (0 = all)
var cleanScript = redis.NewScript(luaHelpers + `
local ids
local limit = tonumber(ARGV[3])
if limit > 0 then
  ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[2], "LIMIT", 0, limit)
else
  ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[2])
end
for _, id in ipairs(ids) do
  drop(KEYS[1], ARGV[1], id)
end
return #ids
`)
