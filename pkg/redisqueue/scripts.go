package redisqueue

import "github.com/redis/go-redis/v9"

// Every state transition runs as a single script so that the job hash, the
// state sets and the lease key change together.

// KEYS: job, wait. ARGV: id, data, priority, timestamp, score, dedupKey,
// dedupTTL(ms), jobPrefix.
// Returns {1, id} when added, {0, id} when the id already exists and
// {2, otherId} when the dedup key points at a job that is still in flight.
var addScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return {0, ARGV[1]}
end
if ARGV[6] ~= "" then
  local existing = redis.call("GET", ARGV[6])
  if existing then
    local state = redis.call("HGET", ARGV[8] .. existing, "state")
    if state == "waiting" or state == "active" or state == "delayed" then
      return {2, existing}
    end
  end
  redis.call("SET", ARGV[6], ARGV[1], "PX", ARGV[7])
end
redis.call("HSET", KEYS[1], "data", ARGV[2], "priority", ARGV[3], "timestamp", ARGV[4],
  "state", "waiting", "progress", "0", "attemptsMade", "0", "stalledCounter", "0")
redis.call("ZADD", KEYS[2], ARGV[5], ARGV[1])
return {1, ARGV[1]}
`)

// KEYS: wait, active. ARGV: token, lockTTL(ms), now, jobPrefix, lockPrefix.
// Returns the claimed id, or an empty string when nothing is waiting.
var claimScript = redis.NewScript(`
while true do
  local popped = redis.call("ZPOPMIN", KEYS[1])
  if #popped == 0 then
    return ""
  end
  local id = popped[1]
  local jobKey = ARGV[4] .. id
  if redis.call("EXISTS", jobKey) == 1 then
    redis.call("SET", ARGV[5] .. id, ARGV[1], "PX", ARGV[2])
    redis.call("ZADD", KEYS[2], ARGV[3], id)
    redis.call("HSET", jobKey, "state", "active", "processedOn", ARGV[3])
    return id
  end
end
`)

// KEYS: job, lock. ARGV: token, progress, lockTTL(ms).
// Returns -1 when the lease is lost, otherwise the stored progress.
var progressScript = redis.NewScript(`
if redis.call("GET", KEYS[2]) ~= ARGV[1] then
  return -1
end
redis.call("PEXPIRE", KEYS[2], ARGV[3])
local current = tonumber(redis.call("HGET", KEYS[1], "progress") or "0")
local p = tonumber(ARGV[2])
if p > current then
  redis.call("HSET", KEYS[1], "progress", ARGV[2])
  return p
end
return current
`)

// KEYS: lock. ARGV: token, lockTTL(ms).
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`)

// KEYS: job, lock, active, completed. ARGV: token, id, returnvalue, now.
var completeScript = redis.NewScript(`
if redis.call("GET", KEYS[2]) ~= ARGV[1] then
  return -1
end
redis.call("DEL", KEYS[2])
redis.call("ZREM", KEYS[3], ARGV[2])
redis.call("HSET", KEYS[1], "state", "completed", "returnvalue", ARGV[3], "finishedOn", ARGV[4])
redis.call("ZADD", KEYS[4], ARGV[4], ARGV[2])
return 1
`)

// KEYS: job, lock, active, delayed, failed.
// ARGV: token, id, reason, now, maxAttempts, delay(ms).
// Returns -1 when the lease is lost, 0 when the job will be retried and 1
// when it failed for good.
var failScript = redis.NewScript(`
if redis.call("GET", KEYS[2]) ~= ARGV[1] then
  return -1
end
redis.call("DEL", KEYS[2])
redis.call("ZREM", KEYS[3], ARGV[2])
local attempts = redis.call("HINCRBY", KEYS[1], "attemptsMade", 1)
redis.call("HSET", KEYS[1], "failedReason", ARGV[3])
if attempts < tonumber(ARGV[5]) then
  redis.call("HSET", KEYS[1], "state", "delayed")
  redis.call("ZADD", KEYS[4], tonumber(ARGV[4]) + tonumber(ARGV[6]), ARGV[2])
  return 0
end
redis.call("HSET", KEYS[1], "state", "failed", "finishedOn", ARGV[4])
redis.call("ZADD", KEYS[5], ARGV[4], ARGV[2])
return 1
`)

// KEYS: delayed, wait. ARGV: now, jobPrefix.
var promoteScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for _, id in ipairs(due) do
  local jobKey = ARGV[2] .. id
  local priority = tonumber(redis.call("HGET", jobKey, "priority") or "0")
  redis.call("ZREM", KEYS[1], id)
  redis.call("ZADD", KEYS[2], priority * 10000000000000 + tonumber(ARGV[1]), id)
  redis.call("HSET", jobKey, "state", "waiting")
end
return #due
`)

// KEYS: active, wait, failed. ARGV: now, jobPrefix, lockPrefix, maxAttempts,
// reason. Returns {requeued ids, failed ids}.
var stalledScript = redis.NewScript(`
local ids = redis.call("ZRANGE", KEYS[1], 0, -1)
local requeued = {}
local failed = {}
for _, id in ipairs(ids) do
  if redis.call("EXISTS", ARGV[3] .. id) == 0 then
    local jobKey = ARGV[2] .. id
    redis.call("ZREM", KEYS[1], id)
    redis.call("HINCRBY", jobKey, "stalledCounter", 1)
    local attempts = redis.call("HINCRBY", jobKey, "attemptsMade", 1)
    if attempts >= tonumber(ARGV[4]) then
      redis.call("HSET", jobKey, "state", "failed", "failedReason", ARGV[5], "finishedOn", ARGV[1])
      redis.call("ZADD", KEYS[3], ARGV[1], id)
      table.insert(failed, id)
    else
      local priority = tonumber(redis.call("HGET", jobKey, "priority") or "0")
      redis.call("HSET", jobKey, "state", "waiting")
      redis.call("ZADD", KEYS[2], priority * 10000000000000 + tonumber(ARGV[1]), id)
      table.insert(requeued, id)
    end
  end
end
return {requeued, failed}
`)

// KEYS: finished set. ARGV: keep, jobPrefix. Drops the oldest records above
// the retention limit together with their hashes.
var pruneScript = redis.NewScript(`
local keep = tonumber(ARGV[1])
if keep < 0 then
  return 0
end
local count = redis.call("ZCARD", KEYS[1])
if count <= keep then
  return 0
end
local old = redis.call("ZRANGE", KEYS[1], 0, count - keep - 1)
for _, id in ipairs(old) do
  redis.call("DEL", ARGV[2] .. id)
end
redis.call("ZREMRANGEBYRANK", KEYS[1], 0, count - keep - 1)
return #old
`)
