package redis

// Multi-step operations run as server-side Lua so they stay atomic with
// respect to their key. Index bookkeeping (tag sets, the key set) happens
// inside the same script as the entry write. Scripts address index keys
// through ARGV; this repository targets a single node, so cluster key
// declaration rules do not apply.

const saveScript = `
local old = redis.call('HGET', KEYS[1], 'tags')
if old then
  for _, t in ipairs(cjson.decode(old)) do
    redis.call('SREM', ARGV[10] .. t, ARGV[9])
  end
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1],
  'v', ARGV[1], 'ttl', ARGV[2], 'hits', ARGV[3],
  'created', ARGV[4], 'updated', ARGV[5], 'expires', ARGV[6],
  'tags', ARGV[7], 'meta', ARGV[8])
if tonumber(ARGV[6]) > 0 then
  redis.call('PEXPIREAT', KEYS[1], tonumber(ARGV[6]))
end
redis.call('SADD', ARGV[11], ARGV[9])
for _, t in ipairs(cjson.decode(ARGV[7])) do
  redis.call('SADD', ARGV[10] .. t, ARGV[9])
end
return 1
`

const deleteScript = `
local removed = 0
local old = redis.call('HGET', KEYS[1], 'tags')
if old then
  for _, t in ipairs(cjson.decode(old)) do
    redis.call('SREM', ARGV[2] .. t, ARGV[1])
  end
  removed = redis.call('DEL', KEYS[1])
end
redis.call('SREM', ARGV[3], ARGV[1])
return removed
`

const incrementScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
  local v = redis.call('HINCRBY', KEYS[1], 'v', ARGV[1])
  redis.call('HSET', KEYS[1], 'updated', ARGV[3])
  return v
end
redis.call('HSET', KEYS[1],
  'v', ARGV[1], 'ttl', ARGV[2], 'hits', 0,
  'created', ARGV[3], 'updated', ARGV[3], 'expires', ARGV[4],
  'tags', '[]', 'meta', '{}')
if tonumber(ARGV[4]) > 0 then
  redis.call('PEXPIREAT', KEYS[1], tonumber(ARGV[4]))
end
redis.call('SADD', ARGV[6], ARGV[5])
return tonumber(ARGV[1])
`

const setIfNotExistsScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'v', ARGV[1], 'ttl', ARGV[2], 'hits', 0,
  'created', ARGV[3], 'updated', ARGV[3], 'expires', ARGV[4],
  'tags', '[]', 'meta', '{}')
if tonumber(ARGV[4]) > 0 then
  redis.call('PEXPIREAT', KEYS[1], tonumber(ARGV[4]))
end
redis.call('SADD', ARGV[6], ARGV[5])
return 1
`

const getAndSetScript = `
local prev = redis.call('HGET', KEYS[1], 'v')
local old = redis.call('HGET', KEYS[1], 'tags')
if old then
  for _, t in ipairs(cjson.decode(old)) do
    redis.call('SREM', ARGV[6] .. t, ARGV[5])
  end
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1],
  'v', ARGV[1], 'ttl', ARGV[2], 'hits', 0,
  'created', ARGV[3], 'updated', ARGV[3], 'expires', ARGV[4],
  'tags', '[]', 'meta', '{}')
if tonumber(ARGV[4]) > 0 then
  redis.call('PEXPIREAT', KEYS[1], tonumber(ARGV[4]))
end
redis.call('SADD', ARGV[7], ARGV[5])
if prev then
  return prev
end
return false
`

const getAndDeleteScript = `
local prev = redis.call('HGET', KEYS[1], 'v')
local old = redis.call('HGET', KEYS[1], 'tags')
if old then
  for _, t in ipairs(cjson.decode(old)) do
    redis.call('SREM', ARGV[2] .. t, ARGV[1])
  end
end
redis.call('DEL', KEYS[1])
redis.call('SREM', ARGV[3], ARGV[1])
if prev then
  return prev
end
return false
`

const extendTTLScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'ttl', ARGV[1], 'updated', ARGV[2], 'expires', ARGV[3])
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIREAT', KEYS[1], tonumber(ARGV[3]))
else
  redis.call('PERSIST', KEYS[1])
end
return 1
`
