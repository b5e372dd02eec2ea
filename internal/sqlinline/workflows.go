package sqlinline

// The workflow aggregate is checkpointed as a single row: one upsert per
// state-affecting transition, last writer wins. Row replacement is atomic, so
// a crash mid-write never exposes a partial aggregate.

const QUpsertWorkflow = `--sql 349f1749-511d-4cf1-a079-3f2845f6467d
insert into workflows (id, owner_key, title, status, stage, aggregate, created_at, updated_at)
values ($1::text, $2::text, $3::text, $4::text, $5::text, $6::jsonb, now(), now())
on conflict (id) do update set
    owner_key = excluded.owner_key,
    title = excluded.title,
    status = excluded.status,
    stage = excluded.stage,
    aggregate = excluded.aggregate,
    updated_at = now();
`

const QSelectWorkflow = `--sql c460298f-dec0-47fb-ad53-3fca8b2941e8
select aggregate
from workflows
where id = $1::text;
`

const QSelectActiveWorkflows = `--sql 8be0f4a2-7c61-4f5e-9d2a-6e1c0b9a3f7d
select aggregate
from workflows
where status not in ('completed', 'failed', 'stopped')
order by updated_at desc;
`

const QSelectActiveWorkflowsForOwner = `--sql 17264c4b-c18a-4296-b81e-9d8e7a7e3933
select aggregate
from workflows
where owner_key = $1::text
  and status not in ('completed', 'failed', 'stopped')
order by updated_at desc;
`

const QSelectWorkflowsForOwner = `--sql 5dcb5e39-50a2-4d5b-b27e-540ce6c1fabc
select aggregate
from workflows
where owner_key = $1::text
order by updated_at desc;
`

const QDeleteWorkflow = `--sql 6f72a9d9-0765-4347-b0b1-02abe8fa3118
delete from workflows
where id = $1::text;
`
