package script

// bootstrapLua is the script-facing standard library, evaluated once
// per VM bring-up. It builds the output/input/metro/clock/crow tables
// as sugar over the typed __-prefixed host functions, keeping every
// host boundary a plain function with scalar arguments.
const bootstrapLua = `
output = {}
for i = 1, 4 do
  local ch = { index = i, slew = 0, shape = 'linear' }

  function ch.clock(self, period, width)
    if period == 'none' then
      __output_ungate(self.index)
    else
      __output_gate(self.index, period, width or period / 2)
    end
  end

  function ch.scale(self, degrees, mod, scaling)
    if degrees == 'none' then
      __output_unscale(self.index)
    else
      __output_scale(self.index, degrees, mod or 12, scaling or 1.0)
    end
  end

  function ch.action(self, n)
    __output_action(self.index, n or 1)
  end

  setmetatable(ch, {
    __index = function(t, k)
      if k == 'volts' then return __output_get(rawget(t, 'index')) end
      return nil
    end,
    __newindex = function(t, k, v)
      if k == 'volts' then
        local slew = rawget(t, 'slew') or 0
        if slew > 0 then
          __output_toward(rawget(t, 'index'), v, slew * 1000, rawget(t, 'shape') or 'linear')
        else
          __output_hold(rawget(t, 'index'), v)
        end
      else
        rawset(t, k, v)
      end
    end,
    __call = function(t, tree)
      local ix = rawget(t, 'index')
      __output_describe(ix, tree)
      __output_action(ix, 1)
    end,
  })
  output[i] = ch
end

input = {}
for i = 1, 2 do
  local ch = { index = i }
  local setmode = function(ix, m, a, b, c)
    if m == nil or m == 'none' then __input_none(ix)
    elseif m == 'stream' then __input_stream(ix, a or 0.1)
    elseif m == 'change' then __input_change(ix, a or 1.0, b or 0.1, c or 'both')
    elseif m == 'window' then __input_window(ix, a or {}, b or 0.1)
    elseif m == 'scale' then __input_scale(ix, a or {}, b or 12, c or 1.0)
    elseif m == 'volume' then __input_volume(ix, a or 0.1)
    elseif m == 'peak' then __input_peak(ix, a or 1.0, b or 0.1)
    end
  end
  setmetatable(ch, {
    __index = function(t, k)
      if k == 'volts' then return __input_get(rawget(t, 'index')) end
      if k == 'mode' then
        return function(...) setmode(rawget(t, 'index'), ...) end
      end
      return nil
    end,
    __newindex = function(t, k, v)
      if k == 'mode' then
        setmode(rawget(t, 'index'), v)
      else
        rawset(t, k, v)
      end
    end,
  })
  input[i] = ch
end

metro = {}
for i = 1, 8 do
  local m = { id = i }
  function m.start(self, period, count)
    __metro_start(self.id, period or 1.0, count or -1)
  end
  function m.stop(self)
    __metro_stop(self.id)
  end
  metro[i] = m
end

clock = {}
do
  local tasks = {}
  local current = nil

  function __clock_resume(id, ...)
    local co = tasks[id]
    if not co then return end
    local prev = current
    current = id
    local ok, err = coroutine.resume(co, ...)
    current = prev
    if coroutine.status(co) == 'dead' then
      tasks[id] = nil
      __clock_free(id)
    end
    if not ok then __script_error(tostring(err)) end
  end

  function clock.run(fn, ...)
    local id = __clock_alloc()
    if id < 0 then return nil end
    tasks[id] = coroutine.create(fn)
    __clock_resume(id, ...)
    return id
  end

  function clock.sleep(s)
    if current == nil then return end
    __clock_sleep(current, s or 0)
    coroutine.yield()
  end

  function clock.sync(b)
    if current == nil then return end
    __clock_sync(current, b or 1)
    coroutine.yield()
  end

  function clock.cancel(id)
    if tasks[id] then
      tasks[id] = nil
      __clock_free(id)
    end
  end

  function clock.tempo(bpm)
    return __clock_tempo(bpm)
  end

  function clock.cleanup()
    for id in pairs(tasks) do
      tasks[id] = nil
      __clock_free(id)
    end
  end
end

crow = {}
function crow.reset()
  clock.cleanup()
  __crow_reset()
end
function crow.defdynamic(ch, v) return __casl_defdynamic(ch, v) end
function crow.setdynamic(ch, ix, v) __casl_setdynamic(ch, ix, v) end
function crow.getdynamic(ch, ix) return __casl_getdynamic(ch, ix) end

function to(d, t, s) return { 'to', d or 0, t or 0, s or 'linear' } end
function loop(steps) return { 'loop', steps } end
function held(steps) return { 'held', steps } end
function lockseq(steps) return { 'lock', steps } end
function dyn(ix) return { 'dyn', ix } end

function __dispatch_metro(id, stage)
  local m = metro[id]
  local f = m and rawget(m, 'event')
  if f then
    f(id, stage)
  elseif metro_handler then
    metro_handler(id, stage)
  end
end

function __dispatch_input(ch, what, a, b, c, d)
  local t = input[ch]
  local f = t and rawget(t, what)
  if f then f(a, b, c, d) end
end

function __dispatch_done(ch)
  local o = output[ch]
  local f = o and rawget(o, 'done')
  if f then f(ch) end
end
`
